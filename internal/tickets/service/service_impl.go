package service

import (
	"context"

	"github.com/renderbank/renderbank/internal/cache"
	"github.com/renderbank/renderbank/internal/clock"
	"github.com/renderbank/renderbank/internal/config"
	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
	ticketsdomain "github.com/renderbank/renderbank/internal/tickets/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Pricing *config.PricingHolder
	Ledger  ledgerdomain.Service
	Clock   clock.Clock
	Cache   *cache.BalanceCache `optional:"true"`
}

// Service is the account-facing ticket surface: balance, free grants and
// event history. All mutations go through the ledger's idempotency guard.
type Service struct {
	log     *zap.Logger
	pricing *config.PricingHolder
	ledger  ledgerdomain.Service
	clock   clock.Clock
	cache   *cache.BalanceCache
}

func NewService(p Params) ticketsdomain.Service {
	return &Service{
		log:     p.Log.Named("tickets.service"),
		pricing: p.Pricing,
		ledger:  p.Ledger,
		clock:   p.Clock,
		cache:   p.Cache,
	}
}

// Balance serves the display balance, preferring the advisory cache. A
// cache miss reads the ledger and repopulates the cache.
func (s *Service) Balance(ctx context.Context, accountKey string) (ticketsdomain.BalanceView, error) {
	if balance, ok := s.cache.Get(ctx, accountKey); ok {
		return ticketsdomain.BalanceView{AccountKey: accountKey, Balance: balance, Cached: true}, nil
	}

	balance, err := s.ledger.Balance(ctx, accountKey)
	if err != nil {
		return ticketsdomain.BalanceView{}, err
	}
	s.cache.Set(ctx, accountKey, balance)
	return ticketsdomain.BalanceView{AccountKey: accountKey, Balance: balance}, nil
}

// EnsureSignupGrant applies the one-time signup bonus. Safe to call on
// every authenticated request: the token makes repeats free no-ops.
func (s *Service) EnsureSignupGrant(ctx context.Context, id ticketsdomain.Identity) (ledgerdomain.Result, error) {
	bonus := s.pricing.Get().SignupBonus
	if bonus <= 0 {
		balance, err := s.ledger.Balance(ctx, id.AccountKey)
		return ledgerdomain.Result{Balance: balance, Already: true}, err
	}

	res, err := s.ledger.Grant(ctx, ledgerdomain.GrantRequest{
		AccountKey: id.AccountKey,
		Email:      id.Email,
		Token:      "signup:" + id.AccountKey,
		Amount:     bonus,
		Reason:     ledgerdomain.ReasonSignupBonus,
	})
	if err != nil {
		return res, err
	}
	if !res.Already {
		s.log.Info("signup bonus granted",
			zap.String("account", id.AccountKey),
			zap.Int64("amount", bonus),
		)
		s.cache.Invalidate(ctx, id.AccountKey)
	}
	return res, nil
}

// ClaimDailyBonus grants the daily bonus at most once per UTC calendar day.
// The day is baked into the idempotency token, so a new day means a new
// token and a fresh grant.
func (s *Service) ClaimDailyBonus(ctx context.Context, accountKey string) (ticketsdomain.DailyClaim, error) {
	bonus := s.pricing.Get().DailyBonus
	if bonus <= 0 {
		balance, err := s.ledger.Balance(ctx, accountKey)
		return ticketsdomain.DailyClaim{Balance: balance}, err
	}

	day := s.clock.Now().UTC().Format("2006-01-02")
	res, err := s.ledger.Grant(ctx, ledgerdomain.GrantRequest{
		AccountKey: accountKey,
		Token:      "daily:" + accountKey + ":" + day,
		Amount:     bonus,
		Reason:     ledgerdomain.ReasonDailyBonus,
		Metadata:   map[string]any{"day": day},
	})
	if err != nil {
		return ticketsdomain.DailyClaim{}, err
	}
	if !res.Already {
		s.log.Info("daily bonus claimed",
			zap.String("account", accountKey),
			zap.String("day", day),
		)
		s.cache.Invalidate(ctx, accountKey)
	}
	return ticketsdomain.DailyClaim{
		Balance: res.Balance,
		Amount:  bonus,
		Granted: !res.Already,
	}, nil
}

func (s *Service) Events(ctx context.Context, req ledgerdomain.ListEventsRequest) (ledgerdomain.ListEventsResponse, error) {
	return s.ledger.ListEvents(ctx, req)
}
