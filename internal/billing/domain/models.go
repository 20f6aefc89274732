package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrUnknownKind  = errors.New("unknown_kind")
	ErrInvalidInput = errors.New("invalid_input")
	// ErrPollTimeout is returned when a job stays pending past the
	// configured horizon. No charge and no refund has happened.
	ErrPollTimeout = errors.New("poll_timeout")
)

// Observation sources, recorded in ledger event metadata. The source never
// changes which idempotency token is used.
const (
	SourceSubmission = "submission"
	SourceStatusPoll = "status-poll"
)

// BillingToken derives the charge idempotency token from a job's identity.
// Every observer of the same job converges on the same token without
// coordination.
func BillingToken(jobID string) string {
	return "generate:" + strings.TrimSpace(jobID)
}

// State is the job's billing state as derived from observations.
type State string

const (
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type SubmitRequest struct {
	AccountKey string
	Kind       string
	Input      map[string]any
}

type PollRequest struct {
	AccountKey string
	JobID      string
	Kind       string
}

// Observation is the billing outcome of one look at a job: what the
// classifier said, what the ledger did about it, and the running balance.
type Observation struct {
	JobID    string          `json:"job_id"`
	Kind     string          `json:"kind"`
	State    State           `json:"state"`
	Charged  bool            `json:"charged"`
	Refunded bool            `json:"refunded"`
	Balance  int64           `json:"balance"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Service orchestrates submission, polling, classification and the ledger.
// All methods are safe to call concurrently and arbitrarily often for the
// same job; the ledger's idempotency guard absorbs the repetition.
type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (Observation, error)
	Poll(ctx context.Context, req PollRequest) (Observation, error)
	Await(ctx context.Context, req PollRequest) (Observation, error)
}
