package domain

import (
	"context"
	"errors"

	"github.com/renderbank/renderbank/pkg/db/pagination"
)

var (
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidReason      = errors.New("invalid_reason")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	// ErrNoMatchingCharge signals a refund with nothing to reverse. Callers
	// treat it as a no-op, not a failure.
	ErrNoMatchingCharge = errors.New("no_matching_charge")
	ErrAccountNotFound  = errors.New("account_not_found")
)

// RefundToken derives the refund idempotency token from a charge token, so a
// charge and its compensating refund stay linked without extra lookup state.
func RefundToken(chargeToken string) string {
	return chargeToken + ":refund"
}

type GrantRequest struct {
	AccountKey  string
	Email       string
	CustomerRef string
	Token       string
	Amount      int64
	Reason      Reason
	Metadata    map[string]any
}

type ConsumeRequest struct {
	AccountKey string
	Token      string
	Cost       int64
	Reason     Reason
	Metadata   map[string]any
}

type RefundRequest struct {
	AccountKey  string
	ChargeToken string
	Amount      int64
	Reason      Reason
	Metadata    map[string]any
}

// Result reports the balance after an operation. Already is true when the
// token had been applied before and this call changed nothing.
type Result struct {
	Balance int64 `json:"balance"`
	Already bool  `json:"already"`
}

type ListEventsRequest struct {
	AccountKey string
	pagination.Pagination
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

// Service is the ledger store. Every mutation is parameterized by an
// idempotency token and applies at most once, ledger-wide.
type Service interface {
	Grant(ctx context.Context, req GrantRequest) (Result, error)
	Consume(ctx context.Context, req ConsumeRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
	Balance(ctx context.Context, accountKey string) (int64, error)
	Account(ctx context.Context, accountKey string) (*Account, error)
	ListEvents(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
}
