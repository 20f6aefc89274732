package observability

import (
	"github.com/renderbank/renderbank/internal/observability/logger"
	"github.com/renderbank/renderbank/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		logger.New,
		metrics.New,
	),
)
