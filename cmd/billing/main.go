package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/tvloop/billing/internal/clock"
	"github.com/tvloop/billing/internal/config"
	"github.com/tvloop/billing/internal/coupon"
	"github.com/tvloop/billing/internal/customer"
	"github.com/tvloop/billing/internal/entitlement/youcast"
	"github.com/tvloop/billing/internal/gateway/asaas"
	"github.com/tvloop/billing/internal/logger"
	"github.com/tvloop/billing/internal/migration"
	"github.com/tvloop/billing/internal/order"
	"github.com/tvloop/billing/internal/plan"
	"github.com/tvloop/billing/internal/planchange"
	"github.com/tvloop/billing/internal/registration"
	"github.com/tvloop/billing/internal/server"
	"github.com/tvloop/billing/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// External providers
		asaas.Module,
		youcast.Module,

		// Domains
		plan.Module,
		coupon.Module,
		customer.Module,
		order.Module,
		registration.Module,
		planchange.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
