package domain

import (
	"context"
	"errors"
)

// Catalog groups active plans by billing cycle for plan pickers.
type Catalog struct {
	Cycles       []BillingCycle          `json:"cycles"`
	PlansByCycle map[BillingCycle][]Plan `json:"plans_by_cycle"`
	ActiveCycle  BillingCycle            `json:"active_cycle"`
}

type Service interface {
	Get(ctx context.Context, id string) (Plan, error)
	Catalog(ctx context.Context) (Catalog, error)
}

var (
	ErrInvalidPlan = errors.New("invalid_plan")
	ErrNotFound    = errors.New("plan_not_found")
)
