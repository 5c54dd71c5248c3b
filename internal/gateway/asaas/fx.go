package asaas

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tvloop/billing/internal/config"
	"github.com/tvloop/billing/internal/gateway"
)

var Module = fx.Module("gateway.asaas",
	fx.Provide(func(cfg config.Config, log *zap.Logger) gateway.Client {
		return New(cfg.Gateway, log)
	}),
)
