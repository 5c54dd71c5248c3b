// Package seed bootstraps a starter plan catalog for development setups.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
)

// EnsureCatalog seeds the default plans, packages and a welcome coupon.
// Idempotent: an already-populated catalog is left untouched.
func EnsureCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plans int64
		if err := tx.Model(&plandomain.Plan{}).Count(&plans).Error; err != nil {
			return err
		}
		if plans > 0 {
			return nil
		}

		basic := plandomain.Package{ID: node.Generate(), Name: "Basic channels", Cod: "BASIC"}
		premium := plandomain.Package{ID: node.Generate(), Name: "Premium channels", Cod: "PREMIUM"}
		sports := plandomain.Package{ID: node.Generate(), Name: "Sports channels", Cod: "SPORTS"}
		if err := tx.Create(&[]plandomain.Package{basic, premium, sports}).Error; err != nil {
			return err
		}

		seedPlans := []plandomain.Plan{
			{
				ID:          node.Generate(),
				Name:        "Basic",
				Description: "Open channels",
				Value:       decimal.NewFromInt(50),
				Cycle:       plandomain.CycleMonthly,
				BillingType: "CREDIT_CARD",
				FreeForDays: 7,
				IsActive:    true,
				Packages:    []plandomain.Package{basic},
			},
			{
				ID:          node.Generate(),
				Name:        "Premium",
				Description: "All channels plus sports",
				Value:       decimal.NewFromInt(100),
				Cycle:       plandomain.CycleMonthly,
				BillingType: "CREDIT_CARD",
				FreeForDays: 7,
				IsActive:    true,
				Packages:    []plandomain.Package{basic, premium, sports},
			},
			{
				ID:          node.Generate(),
				Name:        "Premium Yearly",
				Description: "All channels plus sports, billed yearly",
				Value:       decimal.NewFromInt(1000),
				Cycle:       plandomain.CycleYearly,
				BillingType: "CREDIT_CARD",
				FreeForDays: 7,
				IsActive:    true,
				Packages:    []plandomain.Package{basic, premium, sports},
			},
		}
		if err := tx.Create(&seedPlans).Error; err != nil {
			return err
		}

		welcome := coupondomain.Coupon{
			ID:       node.Generate(),
			Name:     "WELCOME10",
			Percent:  decimal.NewFromInt(10),
			IsActive: true,
		}
		return tx.Create(&welcome).Error
	})
}
