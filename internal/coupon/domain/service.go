package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Resolution is the outcome of applying a coupon to a plan's list price.
// A zero DiscountedValue is a valid free-of-charge outcome; values between
// zero and the minimum charge are rejected before ever reaching here.
type Resolution struct {
	Coupon          *Coupon         `json:"-"`
	DiscountedValue decimal.Decimal `json:"discounted_value"`
	FormattedValue  string          `json:"formatted_value"`
}

type ResolveRequest struct {
	CouponName string `json:"coupon" form:"coupon"`
	PlanID     string `json:"plan_id" form:"plan_id"`
}

type Service interface {
	// Resolve applies the named coupon to the plan's value. An empty coupon
	// name means no coupon: the plan's list price is returned unchanged.
	Resolve(ctx context.Context, req ResolveRequest) (Resolution, error)
}

type Repository interface {
	FindByName(ctx context.Context, name string) (*Coupon, error)
}

var (
	ErrInvalidCoupon      = errors.New("invalid_coupon")
	ErrBelowMinimumCharge = errors.New("below_minimum_charge")
)
