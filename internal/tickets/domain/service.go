package domain

import (
	"context"

	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
)

// Identity is the authenticated caller as the tickets surface sees it.
type Identity struct {
	AccountKey string
	Email      string
}

// BalanceView is the account's ticket balance for display. Cached marks a
// value served from the advisory cache rather than the ledger.
type BalanceView struct {
	AccountKey string `json:"account_key"`
	Balance    int64  `json:"balance"`
	Cached     bool   `json:"-"`
}

// DailyClaim reports the outcome of a daily bonus claim. Granted is false
// when today's bonus had already been claimed.
type DailyClaim struct {
	Balance int64 `json:"balance"`
	Amount  int64 `json:"amount"`
	Granted bool  `json:"granted"`
}

type Service interface {
	Balance(ctx context.Context, accountKey string) (BalanceView, error)
	EnsureSignupGrant(ctx context.Context, id Identity) (ledgerdomain.Result, error)
	ClaimDailyBonus(ctx context.Context, accountKey string) (DailyClaim, error)
	Events(ctx context.Context, req ledgerdomain.ListEventsRequest) (ledgerdomain.ListEventsResponse, error)
}
