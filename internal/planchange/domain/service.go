package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ChangeRequest asks to move an order to another plan, optionally applying
// a coupon to the target plan's price.
type ChangeRequest struct {
	OrderID      string `json:"-"`
	TargetPlanID string `json:"plan_id" form:"plan_id"`
	CouponName   string `json:"coupon" form:"coupon"`
}

// Confirmation is what a successful change answers with.
type Confirmation struct {
	ChangeID       snowflake.ID    `json:"change_id"`
	Upgrade        bool            `json:"upgrade"`
	Deferred       bool            `json:"deferred"`
	InvoiceValue   decimal.Decimal `json:"invoice_value"`
	FormattedValue string          `json:"formatted_value"`
	EffectiveDue   time.Time       `json:"effective_due_date"`
}

type CancelRequest struct {
	OrderID string `json:"-"`
}

type Service interface {
	// ChangePlan runs the full workflow: validate, price, prorate, update
	// the gateway subscription, swap entitlement packages, persist.
	ChangePlan(ctx context.Context, req ChangeRequest) (Confirmation, error)
	// Cancel ends the subscription at the gateway, revokes the plan's
	// packages, and deactivates the order.
	Cancel(ctx context.Context, req CancelRequest) error
	// Resume retries unfinished workflows from their last recorded state.
	Resume(ctx context.Context) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, change *PlanChange) error
	Update(ctx context.Context, db *gorm.DB, change *PlanChange) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PlanChange, error)
	// ListUnfinished returns non-terminal records last touched before the
	// cutoff, oldest first.
	ListUnfinished(ctx context.Context, db *gorm.DB, before time.Time) ([]PlanChange, error)
}

var (
	ErrSamePlan           = errors.New("same_plan")
	ErrPlanExpired        = errors.New("plan_expired_awaiting_payment")
	ErrPersistenceFailure = errors.New("persistence_failure")
	ErrIllegalStateChange = errors.New("illegal_state_change")
	ErrChangeNotFound     = errors.New("plan_change_not_found")
)
