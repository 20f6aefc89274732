package domain

import (
	"context"
	"errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAuthUnavailable means the identity provider could not answer, as
	// opposed to rejecting the token.
	ErrAuthUnavailable = errors.New("auth_unavailable")
)

// Identity is the authenticated account as reported by the identity
// provider. AccountKey is the provider's stable user id, used as the
// ledger account key.
type Identity struct {
	AccountKey string `json:"id"`
	Email      string `json:"email"`
}

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, bearerToken string) (Identity, error)
}
