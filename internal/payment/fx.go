package payment

import (
	"github.com/renderbank/renderbank/internal/config"
	"github.com/renderbank/renderbank/internal/payment/adapters"
	"github.com/renderbank/renderbank/internal/payment/adapters/stripe"
	"github.com/renderbank/renderbank/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(NewAdapterRegistry),
	fx.Provide(webhook.NewService),
)

func NewAdapterRegistry(cfg config.Config) *adapters.Registry {
	return adapters.NewRegistry(
		stripe.NewAdapter(cfg.PaymentWebhookSecret),
	)
}
