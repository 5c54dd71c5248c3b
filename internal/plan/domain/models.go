// Package domain contains reference data for plans and their content packages.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// BillingCycle is the gateway's cycle code for a subscription.
type BillingCycle string

const (
	CycleWeekly       BillingCycle = "WEEKLY"
	CycleBiweekly     BillingCycle = "BIWEEKLY"
	CycleMonthly      BillingCycle = "MONTHLY"
	CycleBimonthly    BillingCycle = "BIMONTHLY"
	CycleQuarterly    BillingCycle = "QUARTERLY"
	CycleSemiannually BillingCycle = "SEMIANNUALLY"
	CycleYearly       BillingCycle = "YEARLY"
)

// Days maps a cycle code to its billing period length in days.
// Unrecognized codes fall back to a monthly period.
func (c BillingCycle) Days() int {
	switch c {
	case CycleWeekly:
		return 7
	case CycleBiweekly:
		return 14
	case CycleMonthly:
		return 30
	case CycleBimonthly:
		return 60
	case CycleQuarterly:
		return 90
	case CycleSemiannually:
		return 180
	case CycleYearly:
		return 365
	default:
		return 30
	}
}

func (c BillingCycle) Valid() bool {
	switch c {
	case CycleWeekly, CycleBiweekly, CycleMonthly, CycleBimonthly,
		CycleQuarterly, CycleSemiannually, CycleYearly:
		return true
	default:
		return false
	}
}

// Plan is immutable reference data; the billing core only reads it.
type Plan struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"type:text;not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Value       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"value"`
	Cycle       BillingCycle    `gorm:"type:text;not null" json:"cycle"`
	BillingType string          `gorm:"type:text;not null" json:"billing_type"`
	FreeForDays int             `gorm:"not null;default:0" json:"free_for_days"`
	IsActive    bool            `gorm:"not null;default:true" json:"is_active"`
	Packages    []Package       `gorm:"many2many:plan_packages;joinForeignKey:PlanID;joinReferences:PackageID" json:"packages,omitempty"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Package is a content package provisioned at the entitlement provider.
// Cod is the provider-side code sent on grant/revoke calls.
type Package struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Cod       string       `gorm:"type:text;not null" json:"cod"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Package) TableName() string { return "packages" }
