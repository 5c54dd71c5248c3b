package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tvloop/billing/internal/clock"
	"github.com/tvloop/billing/internal/config"
	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	customerdomain "github.com/tvloop/billing/internal/customer/domain"
	customerrepository "github.com/tvloop/billing/internal/customer/repository"
	"github.com/tvloop/billing/internal/entitlement"
	"github.com/tvloop/billing/internal/gateway"
	orderdomain "github.com/tvloop/billing/internal/order/domain"
	orderrepository "github.com/tvloop/billing/internal/order/repository"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	changedomain "github.com/tvloop/billing/internal/planchange/domain"
	changerepository "github.com/tvloop/billing/internal/planchange/repository"
)

// Manual mocks

type fakePlanService struct {
	plans map[string]plandomain.Plan
}

func (f *fakePlanService) Get(ctx context.Context, id string) (plandomain.Plan, error) {
	if p, ok := f.plans[id]; ok {
		return p, nil
	}
	return plandomain.Plan{}, plandomain.ErrNotFound
}

func (f *fakePlanService) Catalog(ctx context.Context) (plandomain.Catalog, error) {
	return plandomain.Catalog{}, nil
}

type fakePlanRepo struct {
	packageCodes map[snowflake.ID][]string
}

func (f *fakePlanRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	return nil, plandomain.ErrNotFound
}

func (f *fakePlanRepo) ListActive(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	return nil, nil
}

func (f *fakePlanRepo) PackageCodes(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]string, error) {
	return f.packageCodes[planID], nil
}

// fakeCouponService answers with the target plan's list price unless a
// scripted resolution is set.
type fakeCouponService struct {
	plans      *fakePlanService
	resolution *coupondomain.Resolution
	err        error
}

func (f *fakeCouponService) Resolve(ctx context.Context, req coupondomain.ResolveRequest) (coupondomain.Resolution, error) {
	if f.err != nil {
		return coupondomain.Resolution{}, f.err
	}
	if f.resolution != nil {
		return *f.resolution, nil
	}
	plan, ok := f.plans.plans[req.PlanID]
	if !ok {
		return coupondomain.Resolution{}, coupondomain.ErrInvalidCoupon
	}
	return coupondomain.Resolution{
		DiscountedValue: plan.Value,
		FormattedValue:  coupondomain.FormatAmount(plan.Value),
	}, nil
}

type fakeGateway struct {
	sub      *gateway.Subscription
	payments []gateway.Payment

	getSubErr        error
	getPaymentsErr   error
	updateErr        error
	deletePaymentErr error
	deleteSubErr     error

	deletedPayments []string
	deletedSubs     []string
	updates         []gateway.UpdateSubscriptionRequest
}

func (f *fakeGateway) GetSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	if f.getSubErr != nil {
		return nil, f.getSubErr
	}
	return f.sub, nil
}

func (f *fakeGateway) GetPayments(ctx context.Context, subscriptionID string) ([]gateway.Payment, error) {
	if f.getPaymentsErr != nil {
		return nil, f.getPaymentsErr
	}
	return f.payments, nil
}

func (f *fakeGateway) DeletePayment(ctx context.Context, paymentID string) (bool, error) {
	if f.deletePaymentErr != nil {
		return false, f.deletePaymentErr
	}
	f.deletedPayments = append(f.deletedPayments, paymentID)
	return true, nil
}

func (f *fakeGateway) UpdateSubscription(ctx context.Context, id string, req gateway.UpdateSubscriptionRequest) (*gateway.Subscription, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, req)
	if f.sub != nil {
		f.sub.Value = req.Value
		f.sub.NextDueDate = req.NextDueDate
	}
	return f.sub, nil
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, req gateway.CreateSubscriptionRequest) (*gateway.Subscription, error) {
	return f.sub, nil
}

func (f *fakeGateway) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	if f.deleteSubErr != nil {
		return false, f.deleteSubErr
	}
	f.deletedSubs = append(f.deletedSubs, id)
	return true, nil
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	return "cus_test", nil
}

func (f *fakeGateway) FindCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	return "", nil
}

func (f *fakeGateway) DeleteCustomer(ctx context.Context, id string) error { return nil }

func (f *fakeGateway) TokenizeCard(ctx context.Context, req gateway.TokenizeCardRequest) (*gateway.CardToken, error) {
	return &gateway.CardToken{Token: "tok_test"}, nil
}

func (f *fakeGateway) UpdateSubscriptionCard(ctx context.Context, subscriptionID, cardToken, remoteIP string) error {
	return nil
}

type fakeEntitlement struct {
	grantErr  error
	revokeErr error

	grants  [][]string
	revokes [][]string
}

func (f *fakeEntitlement) FindViewer(ctx context.Context, login string) (*entitlement.Viewer, error) {
	return nil, nil
}

func (f *fakeEntitlement) CreateViewer(ctx context.Context, req entitlement.NewViewerRequest) (*entitlement.Viewer, error) {
	return &entitlement.Viewer{ID: "8841", Login: req.Login}, nil
}

func (f *fakeEntitlement) Grant(ctx context.Context, viewerID string, codes []string) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	f.grants = append(f.grants, codes)
	return nil
}

func (f *fakeEntitlement) Revoke(ctx context.Context, viewerID string, codes []string) error {
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revokes = append(f.revokes, codes)
	return nil
}

// Fixture

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node

	plans   *fakePlanService
	coupons *fakeCouponService
	gw      *fakeGateway
	ent     *fakeEntitlement

	orderRepo  orderdomain.Repository
	changeRepo changedomain.Repository

	svc changedomain.Service

	order    *orderdomain.Order
	oldPlan  plandomain.Plan
	newPlan  plandomain.Plan
	customer *customerdomain.Customer
}

var fixtureToday = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orderdomain.Order{},
		&changedomain.PlanChange{},
		&customerdomain.Customer{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(fixtureToday.Add(9 * time.Hour))

	oldPlan := plandomain.Plan{
		ID:    node.Generate(),
		Name:  "Basic",
		Value: d("50"),
		Cycle: plandomain.CycleMonthly,
	}
	newPlan := plandomain.Plan{
		ID:          node.Generate(),
		Name:        "Premium",
		Description: "All channels",
		Value:       d("100"),
		Cycle:       plandomain.CycleMonthly,
	}
	plans := &fakePlanService{plans: map[string]plandomain.Plan{
		oldPlan.ID.String(): oldPlan,
		newPlan.ID.String(): newPlan,
	}}

	customer := &customerdomain.Customer{
		ID:       node.Generate(),
		Login:    "maria",
		ViewerID: "8841",
	}
	require.NoError(t, db.Create(customer).Error)

	dueDate := fixtureToday.AddDate(0, 0, 10)
	order := &orderdomain.Order{
		ID:                    node.Generate(),
		CustomerID:            customer.ID,
		PlanID:                oldPlan.ID,
		Value:                 d("50"),
		OriginalPlanValue:     d("50"),
		Cycle:                 plandomain.CycleMonthly,
		BillingType:           "CREDIT_CARD",
		GatewaySubscriptionID: "sub_1",
		Status:                orderdomain.OrderStatusActive,
		PaymentStatus:         orderdomain.PaymentStatusReceived,
		NextDueDate:           dueDate,
	}
	require.NoError(t, db.Create(order).Error)

	gw := &fakeGateway{
		sub: &gateway.Subscription{ID: "sub_1", Status: "ACTIVE", Value: d("50"), NextDueDate: dueDate},
		payments: []gateway.Payment{
			{ID: "pay_paid", Value: d("50"), Status: gateway.PaymentReceived, DueDate: fixtureToday.AddDate(0, 0, -20)},
			{ID: "pay_open", Value: d("50"), Status: gateway.PaymentPending, DueDate: dueDate},
		},
	}
	ent := &fakeEntitlement{}
	coupons := &fakeCouponService{plans: plans}
	planRepo := &fakePlanRepo{packageCodes: map[snowflake.ID][]string{
		oldPlan.ID: {"BASIC"},
		newPlan.ID: {"PREMIUM", "SPORTS"},
	}}

	orderRepo := orderrepository.Provide()
	changeRepo := changerepository.Provide()

	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fc,
		Rules:       config.NewStaticBillingRules(config.BillingRules{MinimumCharge: 5.00}),
		Repo:        changeRepo,
		Orders:      orderRepo,
		PlanRepo:    planRepo,
		Customers:   customerrepository.Provide(),
		Plans:       plans,
		Coupons:     coupons,
		Gateway:     gw,
		Entitlement: ent,
	})

	return &fixture{
		db:         db,
		clock:      fc,
		node:       node,
		plans:      plans,
		coupons:    coupons,
		gw:         gw,
		ent:        ent,
		orderRepo:  orderRepo,
		changeRepo: changeRepo,
		svc:        svc,
		order:      order,
		oldPlan:    oldPlan,
		newPlan:    newPlan,
		customer:   customer,
	}
}

func (f *fixture) reloadOrder(t *testing.T) *orderdomain.Order {
	t.Helper()
	order, err := f.orderRepo.FindByID(context.Background(), f.db, f.order.ID)
	require.NoError(t, err)
	return order
}

func (f *fixture) lastChange(t *testing.T) *changedomain.PlanChange {
	t.Helper()
	var change changedomain.PlanChange
	require.NoError(t, f.db.Order("created_at DESC").First(&change).Error)
	return &change
}

// Tests

func TestChangePlanUpgrade(t *testing.T) {
	f := setupFixture(t)

	conf, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.newPlan.ID.String(),
	})
	require.NoError(t, err)

	assert.True(t, conf.Upgrade)
	assert.False(t, conf.Deferred)
	assert.Equal(t, "83.40", conf.InvoiceValue.StringFixed(2))
	assert.True(t, conf.EffectiveDue.Equal(f.order.NextDueDate))

	// Stale open charge removed before the value change.
	assert.Equal(t, []string{"pay_open"}, f.gw.deletedPayments)
	require.Len(t, f.gw.updates, 1)
	assert.Equal(t, "83.4", f.gw.updates[0].Value.String())

	// Old packages out, new packages in.
	assert.Equal(t, [][]string{{"BASIC"}}, f.ent.revokes)
	assert.Equal(t, [][]string{{"PREMIUM", "SPORTS"}}, f.ent.grants)

	order := f.reloadOrder(t)
	assert.Equal(t, f.newPlan.ID, order.PlanID)
	assert.Equal(t, "83.40", order.Value.StringFixed(2))
	assert.Equal(t, "100.00", order.OriginalPlanValue.StringFixed(2))
	assert.True(t, order.ChangedPlan)

	change := f.lastChange(t)
	assert.Equal(t, changedomain.StatePersisted, change.State)
	assert.Empty(t, change.LastError)
}

func TestChangePlanSamePlanRejected(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.oldPlan.ID.String(),
	})
	require.ErrorIs(t, err, changedomain.ErrSamePlan)

	// Rejected before any external call.
	assert.Empty(t, f.gw.updates)
	assert.Empty(t, f.gw.deletedPayments)
	assert.Empty(t, f.ent.grants)
}

func TestChangePlanHeldOnAnotherOrderRejected(t *testing.T) {
	f := setupFixture(t)

	// A second active order already carries the target plan.
	other := &orderdomain.Order{
		ID:                    f.node.Generate(),
		CustomerID:            f.customer.ID,
		PlanID:                f.newPlan.ID,
		Value:                 d("100"),
		OriginalPlanValue:     d("100"),
		Cycle:                 plandomain.CycleMonthly,
		BillingType:           "CREDIT_CARD",
		GatewaySubscriptionID: "sub_2",
		Status:                orderdomain.OrderStatusActive,
		PaymentStatus:         orderdomain.PaymentStatusReceived,
		NextDueDate:           fixtureToday.AddDate(0, 0, 10),
	}
	require.NoError(t, f.db.Create(other).Error)

	_, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.newPlan.ID.String(),
	})
	require.ErrorIs(t, err, changedomain.ErrSamePlan)

	assert.Empty(t, f.gw.updates)
	assert.Empty(t, f.ent.grants)
}

func TestChangePlanExpiredAwaitingPayment(t *testing.T) {
	f := setupFixture(t)

	f.order.NextDueDate = fixtureToday.AddDate(0, 0, -2)
	f.order.PaymentStatus = orderdomain.PaymentStatusOverdue
	require.NoError(t, f.db.Save(f.order).Error)

	_, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.newPlan.ID.String(),
	})
	require.ErrorIs(t, err, changedomain.ErrPlanExpired)
	assert.Empty(t, f.gw.updates)
}

func TestChangePlanBelowMinimumCharge(t *testing.T) {
	f := setupFixture(t)

	// Just-paid cycle: 28 of 30 days remain, so the credit (1.66 * 28 =
	// 46.48) nearly covers a discounted target of 51, leaving an invoice
	// of 4.52 inside the too-cheap-to-bill window.
	due := fixtureToday.AddDate(0, 0, 28)
	f.order.NextDueDate = due
	require.NoError(t, f.db.Save(f.order).Error)
	f.gw.payments = []gateway.Payment{
		{ID: "pay_paid", Value: d("50"), Status: gateway.PaymentReceived, DueDate: fixtureToday.AddDate(0, 0, -2)},
		{ID: "pay_open", Value: d("50"), Status: gateway.PaymentPending, DueDate: due},
	}
	f.coupons.resolution = &coupondomain.Resolution{DiscountedValue: d("51")}

	_, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.newPlan.ID.String(),
		CouponName:   "PROMO",
	})
	require.ErrorIs(t, err, coupondomain.ErrBelowMinimumCharge)

	assert.Empty(t, f.gw.updates)
	assert.Empty(t, f.gw.deletedPayments)
}

func TestChangePlanGatewayRejected(t *testing.T) {
	f := setupFixture(t)
	f.gw.updateErr = &gateway.RejectionError{Description: "invalid value"}

	_, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.newPlan.ID.String(),
	})
	require.ErrorIs(t, err, gateway.ErrRejected)

	// No entitlement or local mutations after a gateway refusal.
	assert.Empty(t, f.ent.grants)
	assert.Empty(t, f.ent.revokes)

	order := f.reloadOrder(t)
	assert.Equal(t, f.oldPlan.ID, order.PlanID)
	assert.Equal(t, "50.00", order.Value.StringFixed(2))
	assert.False(t, order.ChangedPlan)

	change := f.lastChange(t)
	assert.Equal(t, changedomain.StatePending, change.State)
	assert.Contains(t, change.LastError, "invalid value")
}

func TestChangePlanEntitlementFailureResumable(t *testing.T) {
	f := setupFixture(t)
	f.ent.grantErr = entitlement.ErrFailed

	_, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.newPlan.ID.String(),
	})
	require.ErrorIs(t, err, entitlement.ErrFailed)

	// Gateway accepted, so the record freezes at GATEWAY_CONFIRMED and the
	// local order is untouched until the resume completes the swap.
	change := f.lastChange(t)
	assert.Equal(t, changedomain.StateGatewayConfirmed, change.State)
	assert.NotEmpty(t, change.LastError)
	assert.False(t, f.reloadOrder(t).ChangedPlan)

	// Provider recovers; the sweep finishes the workflow.
	f.ent.grantErr = nil
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.svc.Resume(context.Background()))

	change = f.lastChange(t)
	assert.Equal(t, changedomain.StatePersisted, change.State)

	order := f.reloadOrder(t)
	assert.Equal(t, f.newPlan.ID, order.PlanID)
	assert.True(t, order.ChangedPlan)
	assert.Equal(t, [][]string{{"PREMIUM", "SPORTS"}}, f.ent.grants)
}

func TestChangePlanDowngradeDeferred(t *testing.T) {
	f := setupFixture(t)

	// Start from the premium plan and move down to basic.
	f.order.PlanID = f.newPlan.ID
	f.order.Value = d("100")
	f.order.OriginalPlanValue = d("100")
	require.NoError(t, f.db.Save(f.order).Error)
	f.gw.payments = []gateway.Payment{
		{ID: "pay_paid", Value: d("100"), Status: gateway.PaymentConfirmed, DueDate: fixtureToday.AddDate(0, 0, -20)},
	}

	conf, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.oldPlan.ID.String(),
	})
	require.NoError(t, err)

	assert.False(t, conf.Upgrade)
	assert.True(t, conf.Deferred)
	assert.Equal(t, "50.00", conf.InvoiceValue.StringFixed(2))
	assert.True(t, conf.EffectiveDue.Equal(f.order.NextDueDate.AddDate(0, 0, 10)))

	// No payment deletion on a downgrade.
	assert.Empty(t, f.gw.deletedPayments)
	require.Len(t, f.gw.updates, 1)
	assert.True(t, f.gw.updates[0].NextDueDate.Equal(conf.EffectiveDue))
}

func TestChangePlanStalePendingAbandonedOnResume(t *testing.T) {
	f := setupFixture(t)
	f.gw.updateErr = gateway.ErrUnavailable

	_, err := f.svc.ChangePlan(context.Background(), changedomain.ChangeRequest{
		OrderID:      f.order.ID.String(),
		TargetPlanID: f.newPlan.ID.String(),
	})
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, changedomain.StatePending, f.lastChange(t).State)

	// On resume the gateway still shows the old subscription values, so
	// the update provably never landed and the record is closed out.
	f.gw.updateErr = nil
	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.svc.Resume(context.Background()))

	assert.Equal(t, changedomain.StateAbandoned, f.lastChange(t).State)
	assert.False(t, f.reloadOrder(t).ChangedPlan)
}

func TestCancel(t *testing.T) {
	f := setupFixture(t)

	require.NoError(t, f.svc.Cancel(context.Background(), changedomain.CancelRequest{
		OrderID: f.order.ID.String(),
	}))

	assert.Equal(t, []string{"sub_1"}, f.gw.deletedSubs)
	assert.Equal(t, [][]string{{"BASIC"}}, f.ent.revokes)

	order := f.reloadOrder(t)
	assert.Equal(t, orderdomain.OrderStatusInactive, order.Status)
	require.NotNil(t, order.DeletedDate)

	// Canceling again is a no-op.
	require.NoError(t, f.svc.Cancel(context.Background(), changedomain.CancelRequest{
		OrderID: f.order.ID.String(),
	}))
	assert.Len(t, f.gw.deletedSubs, 1)
}

func TestCancelGatewayUnavailable(t *testing.T) {
	f := setupFixture(t)
	f.gw.deleteSubErr = gateway.ErrUnavailable

	err := f.svc.Cancel(context.Background(), changedomain.CancelRequest{
		OrderID: f.order.ID.String(),
	})
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	order := f.reloadOrder(t)
	assert.Equal(t, orderdomain.OrderStatusActive, order.Status)
	assert.Nil(t, order.DeletedDate)
}
