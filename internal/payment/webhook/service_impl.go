package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/renderbank/renderbank/internal/cache"
	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
	"github.com/renderbank/renderbank/internal/payment/adapters"
	paymentdomain "github.com/renderbank/renderbank/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Registry *adapters.Registry
	Ledger   ledgerdomain.Service
	Cache    *cache.BalanceCache `optional:"true"`
}

// Service turns verified provider webhooks into ledger grants. The
// provider's event id is the idempotency token, so redelivered webhooks
// (providers retry aggressively) credit the account exactly once.
type Service struct {
	log      *zap.Logger
	registry *adapters.Registry
	ledger   ledgerdomain.Service
	cache    *cache.BalanceCache
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:      p.Log.Named("payment.webhook"),
		registry: p.Registry,
		ledger:   p.Ledger,
		cache:    p.Cache,
	}
}

func (s *Service) Handle(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.Receipt, error) {
	adapter, err := s.registry.Adapter(provider)
	if err != nil {
		return paymentdomain.Receipt{}, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return paymentdomain.Receipt{}, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return paymentdomain.Receipt{Ignored: true}, nil
		}
		return paymentdomain.Receipt{}, err
	}

	res, err := s.ledger.Grant(ctx, ledgerdomain.GrantRequest{
		AccountKey:  event.AccountKey,
		Email:       event.Email,
		CustomerRef: event.CustomerRef,
		Token:       event.Provider + ":" + event.ProviderEventID,
		Amount:      event.Tickets,
		Reason:      ledgerdomain.ReasonPurchase,
		Metadata: map[string]any{
			"provider":          event.Provider,
			"provider_event_id": event.ProviderEventID,
			"plan":              event.Plan,
		},
	})
	if err != nil {
		return paymentdomain.Receipt{}, err
	}

	if !res.Already {
		s.log.Info("purchase credited",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ProviderEventID),
			zap.String("account", event.AccountKey),
			zap.Int64("tickets", event.Tickets),
		)
		if s.cache != nil {
			s.cache.Invalidate(ctx, event.AccountKey)
		}
	}

	return paymentdomain.Receipt{
		Balance: res.Balance,
		Tickets: event.Tickets,
		Already: res.Already,
	}, nil
}
