package youcast

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tvloop/billing/internal/config"
	"github.com/tvloop/billing/internal/entitlement"
)

var Module = fx.Module("entitlement.youcast",
	fx.Provide(func(cfg config.Config, log *zap.Logger) entitlement.Provider {
		return New(cfg.Entitlement, log)
	}),
)
