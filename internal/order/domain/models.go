// Package domain contains the order record: one row per gateway subscription.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
)

// OrderStatus mirrors the gateway's subscription lifecycle states.
type OrderStatus string

const (
	OrderStatusActive   OrderStatus = "ACTIVE"
	OrderStatusInactive OrderStatus = "INACTIVE"
	OrderStatusExpired  OrderStatus = "EXPIRED"
)

// PaymentStatus mirrors the gateway's charge states for the order's
// most recent payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusReceived  PaymentStatus = "RECEIVED"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusOverdue   PaymentStatus = "OVERDUE"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Paid reports whether the status means money has actually cleared.
func (s PaymentStatus) Paid() bool {
	return s == PaymentStatusReceived || s == PaymentStatusConfirmed
}

// Order captures a customer's subscription to a plan. Value is the amount
// actually charged (after any coupon); OriginalPlanValue keeps the list
// price at the time of purchase. Cycle is a snapshot of the plan's cycle
// when the order was created; proration always derives its period length
// from this field, not from whatever cycle a target plan carries.
type Order struct {
	ID                    snowflake.ID             `gorm:"primaryKey" json:"id"`
	CustomerID            snowflake.ID             `gorm:"not null;index" json:"customer_id"`
	PlanID                snowflake.ID             `gorm:"not null;index" json:"plan_id"`
	Value                 decimal.Decimal          `gorm:"type:decimal(10,2);not null" json:"value"`
	OriginalPlanValue     decimal.Decimal          `gorm:"type:decimal(10,2);not null" json:"original_plan_value"`
	Cycle                 plandomain.BillingCycle  `gorm:"type:text;not null" json:"cycle"`
	BillingType           string                   `gorm:"type:text;not null" json:"billing_type"`
	Description           string                   `gorm:"type:text" json:"description"`
	GatewaySubscriptionID string                   `gorm:"type:text;index" json:"gateway_subscription_id"`
	GatewayCustomerID     string                   `gorm:"type:text" json:"gateway_customer_id"`
	Status                OrderStatus              `gorm:"type:text;not null;default:ACTIVE" json:"status"`
	PaymentStatus         PaymentStatus            `gorm:"type:text;not null;default:PENDING" json:"payment_status"`
	NextDueDate           time.Time                `gorm:"not null" json:"next_due_date"`
	ChangedPlan           bool                     `gorm:"not null;default:false" json:"changed_plan"`
	ConsentID             *snowflake.ID            `gorm:"" json:"consent_id,omitempty"`
	DeletedDate           *time.Time               `gorm:"" json:"deleted_date,omitempty"`
	CreatedAt             time.Time                `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time                `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }
