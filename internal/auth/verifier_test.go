package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/renderbank/renderbank/internal/auth/domain"
	"github.com/renderbank/renderbank/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newVerifier(endpoint string) *HTTPVerifier {
	return NewHTTPVerifier(config.Config{
		AuthEndpoint: endpoint,
		AuthTimeout:  time.Second,
	}, zap.NewNop())
}

func TestVerifyResolvesIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/me", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "user-1", "email": "u@example.com"}`))
	}))
	defer srv.Close()

	id, err := newVerifier(srv.URL).Verify(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.AccountKey)
	assert.Equal(t, "u@example.com", id.Email)
}

func TestVerifyRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newVerifier(srv.URL).Verify(context.Background(), "bad")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyEmptyTokenIsUnauthorized(t *testing.T) {
	_, err := newVerifier("http://127.0.0.1:1").Verify(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyProviderOutage(t *testing.T) {
	_, err := newVerifier("http://127.0.0.1:1").Verify(context.Background(), "tok")
	require.ErrorIs(t, err, domain.ErrAuthUnavailable)
}

func TestVerifyProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newVerifier(srv.URL).Verify(context.Background(), "tok")
	require.ErrorIs(t, err, domain.ErrAuthUnavailable)
}

func TestVerifyMissingIDIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"email": "u@example.com"}`))
	}))
	defer srv.Close()

	_, err := newVerifier(srv.URL).Verify(context.Background(), "tok")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
