// Package service orchestrates plan changes across the payment gateway,
// the entitlement provider, and the local order record.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tvloop/billing/internal/clock"
	"github.com/tvloop/billing/internal/config"
	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	customerdomain "github.com/tvloop/billing/internal/customer/domain"
	"github.com/tvloop/billing/internal/entitlement"
	"github.com/tvloop/billing/internal/gateway"
	"github.com/tvloop/billing/internal/observability/metrics"
	orderdomain "github.com/tvloop/billing/internal/order/domain"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	changedomain "github.com/tvloop/billing/internal/planchange/domain"
	"github.com/tvloop/billing/internal/proration"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	rules *config.BillingRulesHolder

	repo      changedomain.Repository
	orders    orderdomain.Repository
	planRepo  plandomain.Repository
	customers customerdomain.Repository

	plans   plandomain.Service
	coupons coupondomain.Service

	gw  gateway.Client
	ent entitlement.Provider

	metrics *metrics.BillingMetrics
	locks   orderLocks
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Rules *config.BillingRulesHolder

	Repo      changedomain.Repository
	Orders    orderdomain.Repository
	PlanRepo  plandomain.Repository
	Customers customerdomain.Repository

	Plans   plandomain.Service
	Coupons coupondomain.Service

	Gateway     gateway.Client
	Entitlement entitlement.Provider
}

func NewService(p ServiceParam) changedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("planchange.service"),

		genID: p.GenID,
		clock: p.Clock,
		rules: p.Rules,

		repo:      p.Repo,
		orders:    p.Orders,
		planRepo:  p.PlanRepo,
		customers: p.Customers,

		plans:   p.Plans,
		coupons: p.Coupons,

		gw:  p.Gateway,
		ent: p.Entitlement,

		metrics: metrics.Billing(),
	}
}

// orderLocks serializes workflows per order id so two overlapping changes
// cannot both read stale value/due-date and issue conflicting gateway
// updates. Entries are never removed; orders are few and mutexes small.
type orderLocks struct {
	m sync.Map
}

func (l *orderLocks) lock(id snowflake.ID) func() {
	v, _ := l.m.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ChangePlan implements domain.Service.
func (s *Service) ChangePlan(ctx context.Context, req changedomain.ChangeRequest) (changedomain.Confirmation, error) {
	orderID, err := parseID(req.OrderID, orderdomain.ErrInvalidOrder)
	if err != nil {
		return changedomain.Confirmation{}, err
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return changedomain.Confirmation{}, err
	}
	if order == nil {
		return changedomain.Confirmation{}, orderdomain.ErrNotFound
	}

	target, err := s.plans.Get(ctx, req.TargetPlanID)
	if err != nil {
		return changedomain.Confirmation{}, err
	}

	if target.ID == order.PlanID {
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeRejected)
		return changedomain.Confirmation{}, changedomain.ErrSamePlan
	}
	// The customer may hold other active orders; the target plan counts as
	// current if any of them already carries it.
	held, err := s.orders.FindActiveByCustomerAndPlan(ctx, s.db, order.CustomerID, target.ID)
	if err != nil {
		return changedomain.Confirmation{}, err
	}
	if held != nil {
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeRejected)
		return changedomain.Confirmation{}, changedomain.ErrSamePlan
	}

	today := clock.Today(s.clock)
	if order.NextDueDate.Before(today) && !order.PaymentStatus.Paid() {
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeRejected)
		return changedomain.Confirmation{}, changedomain.ErrPlanExpired
	}

	resolution, err := s.coupons.Resolve(ctx, coupondomain.ResolveRequest{
		CouponName: req.CouponName,
		PlanID:     req.TargetPlanID,
	})
	if err != nil {
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeRejected)
		return changedomain.Confirmation{}, err
	}

	// The gateway owns billing timing: fetch its view fresh on every
	// attempt, never cache it.
	if _, err := s.gw.GetSubscription(ctx, order.GatewaySubscriptionID); err != nil {
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeGatewayFail)
		return changedomain.Confirmation{}, err
	}
	payments, err := s.gw.GetPayments(ctx, order.GatewaySubscriptionID)
	if err != nil {
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeGatewayFail)
		return changedomain.Confirmation{}, err
	}

	result := proration.Compute(proration.Input{
		Today:        today,
		CycleDays:    order.Cycle.Days(),
		CurrentValue: order.Value,
		NewValue:     resolution.DiscountedValue,
		NextDueDate:  order.NextDueDate,
		Payments:     payments,
	})

	minimum := decimal.NewFromFloat(s.rules.Get().MinimumCharge)
	if result.InvoiceValue.IsPositive() && result.InvoiceValue.LessThanOrEqual(minimum) {
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeRejected)
		return changedomain.Confirmation{}, coupondomain.ErrBelowMinimumCharge
	}

	now := s.clock.Now()
	change := &changedomain.PlanChange{
		ID:           s.genID.Generate(),
		OrderID:      order.ID,
		FromPlanID:   order.PlanID,
		ToPlanID:     target.ID,
		Upgrade:      result.Upgrade,
		Deferred:     result.Deferred,
		InvoiceValue: result.InvoiceValue,
		EffectiveDue: result.EffectiveDueDate,
		State:        changedomain.StatePending,
		Detail: datatypes.JSONMap{
			"cycle_days":     order.Cycle.Days(),
			"days_remaining": result.DaysRemaining,
			"daily_rate":     result.DailyRate.String(),
			"credit":         result.Credit.String(),
			"current_value":  order.Value.String(),
			"new_value":      resolution.DiscountedValue.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if resolution.Coupon != nil {
		couponID := resolution.Coupon.ID
		change.CouponID = &couponID
	}
	if err := s.repo.Insert(ctx, s.db, change); err != nil {
		s.log.Error("plan change record insert failed", zap.Error(err))
		return changedomain.Confirmation{}, fmt.Errorf("record plan change: %w", changedomain.ErrPersistenceFailure)
	}

	// Stale open charges must not survive a value change.
	if result.Upgrade {
		for _, paymentID := range result.PendingPaymentIDs {
			if _, err := s.gw.DeletePayment(ctx, paymentID); err != nil {
				s.recordFailure(ctx, change, err)
				s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeGatewayFail)
				return changedomain.Confirmation{}, err
			}
		}
	}

	if _, err := s.gw.UpdateSubscription(ctx, order.GatewaySubscriptionID, gateway.UpdateSubscriptionRequest{
		BillingType:       order.BillingType,
		Value:             result.InvoiceValue,
		NextDueDate:       result.EffectiveDueDate,
		Description:       "Plan change to: " + target.Name,
		ExternalReference: "order:" + order.ID.String(),
	}); err != nil {
		s.recordFailure(ctx, change, err)
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeGatewayFail)
		return changedomain.Confirmation{}, err
	}
	s.advance(ctx, change, changedomain.StateGatewayConfirmed)

	if err := s.swapEntitlements(ctx, order.CustomerID, order.PlanID, target.ID); err != nil {
		s.recordFailure(ctx, change, err)
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomeEntitlement)
		return changedomain.Confirmation{}, err
	}
	s.advance(ctx, change, changedomain.StateEntitlementApplied)

	if err := s.persistOrder(ctx, order.ID, target, result); err != nil {
		s.recordFailure(ctx, change, err)
		s.metrics.RecordPlanChange(metrics.PlanChangeOutcomePersistFail)
		return changedomain.Confirmation{}, fmt.Errorf("persist order after plan change: %w", changedomain.ErrPersistenceFailure)
	}
	s.advance(ctx, change, changedomain.StatePersisted)
	s.metrics.RecordPlanChange(metrics.PlanChangeOutcomePersisted)

	s.log.Info("plan change applied",
		zap.String("order_id", order.ID.String()),
		zap.String("from_plan", order.PlanID.String()),
		zap.String("to_plan", target.ID.String()),
		zap.Bool("upgrade", result.Upgrade),
		zap.String("invoice_value", result.InvoiceValue.StringFixed(2)),
	)

	return changedomain.Confirmation{
		ChangeID:       change.ID,
		Upgrade:        result.Upgrade,
		Deferred:       result.Deferred,
		InvoiceValue:   result.InvoiceValue,
		FormattedValue: coupondomain.FormatAmount(result.InvoiceValue),
		EffectiveDue:   result.EffectiveDueDate,
	}, nil
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, req changedomain.CancelRequest) error {
	orderID, err := parseID(req.OrderID, orderdomain.ErrInvalidOrder)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return orderdomain.ErrNotFound
	}
	if order.Status == orderdomain.OrderStatusInactive {
		return nil
	}

	if _, err := s.gw.DeleteSubscription(ctx, order.GatewaySubscriptionID); err != nil {
		s.metrics.RecordCancellation("gateway_failure")
		return err
	}

	// Revocation is best-effort: billing already stopped, access cleanup
	// must not resurrect the subscription.
	s.revokePlanPackages(ctx, order.CustomerID, order.PlanID)

	err = s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := s.orders.FindByIDForUpdate(ctx, tx, order.ID)
			if err != nil {
				return backoff.Permanent(err)
			}
			if locked == nil {
				return backoff.Permanent(orderdomain.ErrNotFound)
			}
			now := s.clock.Now()
			locked.Status = orderdomain.OrderStatusInactive
			locked.DeletedDate = &now
			locked.UpdatedAt = now
			return s.orders.Update(ctx, tx, locked)
		})
	})
	if err != nil {
		s.metrics.RecordCancellation("persistence_failure")
		return fmt.Errorf("deactivate order: %w", changedomain.ErrPersistenceFailure)
	}

	s.metrics.RecordCancellation("canceled")
	s.log.Info("subscription canceled", zap.String("order_id", order.ID.String()))
	return nil
}

func (s *Service) swapEntitlements(ctx context.Context, customerID, fromPlanID, toPlanID snowflake.ID) error {
	customer, err := s.customers.FindByID(ctx, s.db, customerID)
	if err != nil {
		return fmt.Errorf("load customer for entitlement swap: %w", err)
	}

	oldCodes, err := s.planRepo.PackageCodes(ctx, s.db, fromPlanID)
	if err != nil {
		return err
	}
	newCodes, err := s.planRepo.PackageCodes(ctx, s.db, toPlanID)
	if err != nil {
		return err
	}

	// Revocation failures are logged, not fatal: leftover access is
	// cheaper than a customer who paid and cannot watch.
	if err := s.ent.Revoke(ctx, customer.ViewerID, oldCodes); err != nil {
		s.log.Error("entitlement revoke failed",
			zap.String("viewer_id", customer.ViewerID),
			zap.Strings("packages", oldCodes),
			zap.Error(err),
		)
	}

	if err := s.ent.Grant(ctx, customer.ViewerID, newCodes); err != nil {
		return fmt.Errorf("grant packages: %w", err)
	}
	return nil
}

func (s *Service) revokePlanPackages(ctx context.Context, customerID, planID snowflake.ID) {
	customer, err := s.customers.FindByID(ctx, s.db, customerID)
	if err != nil {
		s.log.Error("load customer for revocation failed", zap.Error(err))
		return
	}
	codes, err := s.planRepo.PackageCodes(ctx, s.db, planID)
	if err != nil {
		s.log.Error("load packages for revocation failed", zap.Error(err))
		return
	}
	if err := s.ent.Revoke(ctx, customer.ViewerID, codes); err != nil {
		s.log.Error("entitlement revoke failed",
			zap.String("viewer_id", customer.ViewerID),
			zap.Error(err),
		)
	}
}

func (s *Service) persistOrder(ctx context.Context, orderID snowflake.ID, target plandomain.Plan, result proration.Result) error {
	return s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			order, err := s.orders.FindByIDForUpdate(ctx, tx, orderID)
			if err != nil {
				return backoff.Permanent(err)
			}
			if order == nil {
				return backoff.Permanent(orderdomain.ErrNotFound)
			}
			order.PlanID = target.ID
			order.Value = result.InvoiceValue
			order.OriginalPlanValue = target.Value
			order.Description = target.Description
			order.NextDueDate = result.EffectiveDueDate
			order.ChangedPlan = true
			order.UpdatedAt = s.clock.Now()
			return s.orders.Update(ctx, tx, order)
		})
	})
}

func (s *Service) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}

// advance moves the durable record forward. A failed bookkeeping write is
// logged and tolerated: the workflow itself already progressed, and the
// reconciler re-derives reality from the gateway when in doubt.
func (s *Service) advance(ctx context.Context, change *changedomain.PlanChange, to changedomain.State) {
	if !change.State.Next(to) {
		s.log.Error("illegal state change",
			zap.String("change_id", change.ID.String()),
			zap.String("from", string(change.State)),
			zap.String("to", string(to)),
		)
		return
	}
	change.State = to
	change.LastError = ""
	change.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, change); err != nil {
		s.log.Error("plan change state update failed",
			zap.String("change_id", change.ID.String()),
			zap.String("state", string(to)),
			zap.Error(err),
		)
	}
}

func (s *Service) recordFailure(ctx context.Context, change *changedomain.PlanChange, cause error) {
	change.LastError = cause.Error()
	change.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, change); err != nil {
		s.log.Error("plan change failure record failed",
			zap.String("change_id", change.ID.String()),
			zap.Error(err),
		)
	}
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}
