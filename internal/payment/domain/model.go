package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidAccount   = errors.New("invalid_account")
	// ErrEventIgnored marks event types the adapter knows about but that
	// carry no ticket purchase. The webhook acknowledges them without
	// touching the ledger.
	ErrEventIgnored = errors.New("event_ignored")
)

// PurchaseEvent is a provider-agnostic ticket purchase, extracted from a
// verified webhook delivery. ProviderEventID doubles as the idempotency
// anchor: redeliveries of the same event grant nothing.
type PurchaseEvent struct {
	Provider        string
	ProviderEventID string
	AccountKey      string
	Email           string
	CustomerRef     string
	Tickets         int64
	Plan            string
	OccurredAt      time.Time
	RawPayload      []byte
}

// Adapter verifies and parses one payment provider's webhook deliveries.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PurchaseEvent, error)
}

// Receipt reports what a webhook delivery did to the ledger.
type Receipt struct {
	Balance int64 `json:"balance"`
	Tickets int64 `json:"tickets"`
	Already bool  `json:"already"`
	Ignored bool  `json:"ignored"`
}

// Service handles raw webhook deliveries end to end: adapter lookup,
// signature verification, parsing and the ledger grant.
type Service interface {
	Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (Receipt, error)
}
