package tickets

import (
	"github.com/renderbank/renderbank/internal/tickets/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tickets.service",
	fx.Provide(service.NewService),
)
