package planchange

import (
	"github.com/tvloop/billing/internal/planchange/repository"
	"github.com/tvloop/billing/internal/planchange/service"
	"go.uber.org/fx"
)

var Module = fx.Module("planchange.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(service.RunReconciler),
)
