package domain

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrUpstreamUnavailable covers network failures, non-2xx responses and
	// unparseable bodies from the renderer. Billing treats it like a failure
	// observation: refund if charged, otherwise nothing.
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	ErrMissingJobID        = errors.New("missing_job_id")
	ErrInvalidJobSpec      = errors.New("invalid_job_spec")
)

// SubmitRequest is the opaque job spec forwarded to the renderer.
type SubmitRequest struct {
	Kind  string
	Input map[string]any
}

// Submission is the renderer's response to a job submission: the upstream
// job id plus the raw payload for classification.
type Submission struct {
	JobID   string
	Payload json.RawMessage
}

// Client talks to the external rendering service. The response payloads are
// deliberately untyped; only the classifier interprets them.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (Submission, error)
	Status(ctx context.Context, jobID string) (json.RawMessage, error)
}
