package auth

import (
	"github.com/renderbank/renderbank/internal/auth/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(
		fx.Annotate(NewHTTPVerifier, fx.As(new(domain.Verifier))),
	),
)
