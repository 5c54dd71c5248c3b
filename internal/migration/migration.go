// Package migration creates the billing schema on startup so local and
// self-hosted environments work out of the box.
package migration

import (
	"errors"

	"gorm.io/gorm"

	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	customerdomain "github.com/tvloop/billing/internal/customer/domain"
	orderdomain "github.com/tvloop/billing/internal/order/domain"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	changedomain "github.com/tvloop/billing/internal/planchange/domain"
)

func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	return db.AutoMigrate(
		&plandomain.Plan{},
		&plandomain.Package{},
		&coupondomain.Coupon{},
		&customerdomain.Customer{},
		&customerdomain.CreditCard{},
		&customerdomain.Consent{},
		&orderdomain.Order{},
		&changedomain.PlanChange{},
	)
}
