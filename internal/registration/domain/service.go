// Package domain defines the customer onboarding workflow: local account,
// payment-gateway customer and card token, entitlement viewer, first order
// and its gateway subscription.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	"github.com/tvloop/billing/internal/gateway"
)

type RegisterRequest struct {
	Login    string `json:"login" form:"login"`
	Name     string `json:"name" form:"name"`
	Document string `json:"document" form:"document"`
	Email    string `json:"email" form:"email"`
	Mobile   string `json:"mobile" form:"mobile"`

	PlanID     string `json:"plan_id" form:"plan_id"`
	CouponName string `json:"coupon" form:"coupon"`

	Card gateway.CardDetails `json:"card"`

	// Request context captured by the transport layer, passed explicitly.
	RemoteIP  string `json:"-"`
	UserAgent string `json:"-"`
}

type RegisterResponse struct {
	CustomerID     snowflake.ID    `json:"customer_id"`
	OrderID        snowflake.ID    `json:"order_id"`
	ViewerID       string          `json:"viewer_id"`
	Value          decimal.Decimal `json:"value"`
	FormattedValue string          `json:"formatted_value"`
}

type ChangeCardRequest struct {
	OrderID  string              `json:"-"`
	Card     gateway.CardDetails `json:"card"`
	RemoteIP string              `json:"-"`
}

type ChangeCardResponse struct {
	Brand  string `json:"brand"`
	Number string `json:"number"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error)
	// ChangeCard tokenizes a new card, points the gateway subscription at
	// it, and archives the previous card.
	ChangeCard(ctx context.Context, req ChangeCardRequest) (ChangeCardResponse, error)
}

var ErrInvalidRegistration = errors.New("invalid_registration")
