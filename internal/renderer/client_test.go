package renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/renderbank/renderbank/internal/config"
	rendererdomain "github.com/renderbank/renderbank/internal/renderer/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) rendererdomain.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Params{
		Cfg: config.Config{
			RendererEndpoint: server.URL,
			RendererAPIKey:   "rp_test",
			RendererTimeout:  5 * time.Second,
		},
		Log: zap.NewNop(),
	})
}

func TestSubmitReturnsJobID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		assert.Equal(t, "Bearer rp_test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "input")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "job-abc", "status": "IN_QUEUE"}`))
	}))

	sub, err := client.Submit(context.Background(), rendererdomain.SubmitRequest{
		Kind:  "image",
		Input: map[string]any{"workflow": map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-abc", sub.JobID)
	assert.JSONEq(t, `{"id": "job-abc", "status": "IN_QUEUE"}`, string(sub.Payload))
}

func TestSubmitMissingJobID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "IN_QUEUE"}`))
	}))

	_, err := client.Submit(context.Background(), rendererdomain.SubmitRequest{
		Kind:  "image",
		Input: map[string]any{"workflow": map[string]any{}},
	})
	require.ErrorIs(t, err, rendererdomain.ErrMissingJobID)
}

func TestSubmitEmptyInputRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.Submit(context.Background(), rendererdomain.SubmitRequest{Kind: "image"})
	require.ErrorIs(t, err, rendererdomain.ErrInvalidJobSpec)
}

func TestStatusUpstreamFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)
			_, err := client.Status(context.Background(), "job-1")
			require.ErrorIs(t, err, rendererdomain.ErrUpstreamUnavailable)
		})
	}
}

func TestStatusReturnsRawPayload(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status/job-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": "COMPLETED", "output": {"images": ["x.png"]}}`))
	}))

	payload, err := client.Status(context.Background(), "job-9")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "COMPLETED", "output": {"images": ["x.png"]}}`, string(payload))
}

func TestStatusConnectionRefused(t *testing.T) {
	client := NewClient(Params{
		Cfg: config.Config{
			RendererEndpoint: "http://127.0.0.1:1",
			RendererTimeout:  500 * time.Millisecond,
		},
		Log: zap.NewNop(),
	})

	_, err := client.Status(context.Background(), "job-1")
	require.ErrorIs(t, err, rendererdomain.ErrUpstreamUnavailable)
}
