// Package domain contains coupon reference data and the resolution contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Coupon is a percent discount looked up by its unique name.
type Coupon struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name      string          `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Percent   decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"percent"`
	Cod       string          `gorm:"type:text" json:"cod"`
	IsActive  bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Coupon) TableName() string { return "coupons" }
