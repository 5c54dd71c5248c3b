package coupon

import (
	"github.com/tvloop/billing/internal/coupon/repository"
	"github.com/tvloop/billing/internal/coupon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("coupon.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
