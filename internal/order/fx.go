package order

import (
	"go.uber.org/fx"

	orderdomain "github.com/tvloop/billing/internal/order/domain"
	"github.com/tvloop/billing/internal/order/repository"
	"github.com/tvloop/billing/internal/order/service"
	pkgrepository "github.com/tvloop/billing/pkg/repository"
)

var Module = fx.Module("order",
	fx.Provide(
		repository.Provide,
		pkgrepository.ProvideStore[orderdomain.Order],
		service.NewService,
	),
)
