package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/renderbank/renderbank/internal/config"
	obsmetrics "github.com/renderbank/renderbank/internal/observability/metrics"
	rendererdomain "github.com/renderbank/renderbank/internal/renderer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Client submits jobs to a RunPod-style async job API: POST /run returns a
// job id immediately, GET /status/<id> reports progress until terminal.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewClient(p Params) rendererdomain.Client {
	return &Client{
		endpoint: strings.TrimRight(p.Cfg.RendererEndpoint, "/"),
		apiKey:   p.Cfg.RendererAPIKey,
		http:     &http.Client{Timeout: p.Cfg.RendererTimeout},
		log:      p.Log.Named("renderer.client"),
		metrics:  p.Metrics,
	}
}

func (c *Client) Submit(ctx context.Context, req rendererdomain.SubmitRequest) (rendererdomain.Submission, error) {
	if len(req.Input) == 0 {
		return rendererdomain.Submission{}, rendererdomain.ErrInvalidJobSpec
	}

	body, err := json.Marshal(map[string]any{"input": req.Input})
	if err != nil {
		return rendererdomain.Submission{}, rendererdomain.ErrInvalidJobSpec
	}

	payload, err := c.do(ctx, http.MethodPost, c.endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		c.record("submit", "error")
		return rendererdomain.Submission{}, err
	}

	jobID := extractJobID(payload)
	if jobID == "" {
		c.record("submit", "error")
		c.log.Warn("renderer submission returned no job id", zap.ByteString("payload", truncate(payload)))
		return rendererdomain.Submission{}, rendererdomain.ErrMissingJobID
	}

	c.record("submit", "ok")
	return rendererdomain.Submission{JobID: jobID, Payload: payload}, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (json.RawMessage, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, rendererdomain.ErrMissingJobID
	}

	payload, err := c.do(ctx, http.MethodGet, c.endpoint+"/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		c.record("status", "error")
		return nil, err
	}

	c.record("status", "ok")
	return payload, nil
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rendererdomain.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rendererdomain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", rendererdomain.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", rendererdomain.ErrUpstreamUnavailable, resp.StatusCode)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid json body", rendererdomain.ErrUpstreamUnavailable)
	}
	return raw, nil
}

func (c *Client) record(op, result string) {
	c.metrics.RecordRendererRequest(op, result)
}

// extractJobID probes the known id field spellings of the submission response.
func extractJobID(payload json.RawMessage) string {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ""
	}
	for _, field := range []string{"id", "job_id", "jobId", "prompt_id"} {
		if raw, ok := doc[field].(string); ok && strings.TrimSpace(raw) != "" {
			return strings.TrimSpace(raw)
		}
	}
	return ""
}

func truncate(raw []byte) []byte {
	const max = 512
	if len(raw) <= max {
		return raw
	}
	return raw[:max]
}
