package registration

import (
	"go.uber.org/fx"

	"github.com/tvloop/billing/internal/registration/service"
)

var Module = fx.Module("registration.service",
	fx.Provide(
		service.NewService,
	),
)
