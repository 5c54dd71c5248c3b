// Package domain holds the plan-change workflow record. Each attempt that
// passes validation gets a durable row tracking how far the multi-system
// update got, so an interrupted change can be resumed instead of silently
// diverging between the gateway, the entitlement provider, and the local
// order.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// State is how far the workflow advanced. Transitions only move forward:
// PENDING -> GATEWAY_CONFIRMED -> ENTITLEMENT_APPLIED -> PERSISTED. A
// PENDING record whose gateway update provably never landed moves to
// ABANDONED instead.
type State string

const (
	StatePending            State = "PENDING"
	StateGatewayConfirmed   State = "GATEWAY_CONFIRMED"
	StateEntitlementApplied State = "ENTITLEMENT_APPLIED"
	StatePersisted          State = "PERSISTED"
	StateAbandoned          State = "ABANDONED"
)

// Next reports whether moving to the given state is a legal step.
func (s State) Next(to State) bool {
	if to == StateAbandoned {
		return s == StatePending
	}
	order := map[State]int{
		StatePending:            0,
		StateGatewayConfirmed:   1,
		StateEntitlementApplied: 2,
		StatePersisted:          3,
	}
	from, ok := order[s]
	target, ok2 := order[to]
	return ok && ok2 && target == from+1
}

// Terminal reports whether the workflow is finished.
func (s State) Terminal() bool {
	return s == StatePersisted || s == StateAbandoned
}

// PlanChange is the durable workflow record. InvoiceValue and
// EffectiveDueDate are the proration outcome frozen at validation time, so
// a resume never recomputes against drifted gateway data.
type PlanChange struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrderID      snowflake.ID    `gorm:"not null;index" json:"order_id"`
	FromPlanID   snowflake.ID    `gorm:"not null" json:"from_plan_id"`
	ToPlanID     snowflake.ID    `gorm:"not null" json:"to_plan_id"`
	CouponID     *snowflake.ID   `gorm:"" json:"coupon_id,omitempty"`
	Upgrade      bool            `gorm:"not null" json:"upgrade"`
	Deferred     bool            `gorm:"not null" json:"deferred"`
	InvoiceValue decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"invoice_value"`
	EffectiveDue time.Time       `gorm:"not null" json:"effective_due_date"`
	State        State           `gorm:"type:text;not null;index" json:"state"`
	LastError    string          `gorm:"type:text" json:"last_error,omitempty"`
	// Detail keeps the proration arithmetic for support lookups; the
	// workflow itself only reads the frozen columns above.
	Detail    datatypes.JSONMap `gorm:"type:json" json:"detail,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PlanChange) TableName() string { return "plan_change_states" }
