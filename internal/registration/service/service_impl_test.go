package service

import (
	"context"
	"fmt"
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
	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	customerdomain "github.com/tvloop/billing/internal/customer/domain"
	customerrepository "github.com/tvloop/billing/internal/customer/repository"
	"github.com/tvloop/billing/internal/entitlement"
	"github.com/tvloop/billing/internal/gateway"
	orderdomain "github.com/tvloop/billing/internal/order/domain"
	orderrepository "github.com/tvloop/billing/internal/order/repository"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	registrationdomain "github.com/tvloop/billing/internal/registration/domain"
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

// fakeGateway scripts the customer, card and subscription endpoints that
// registration touches; the rest of the interface is inert.
type fakeGateway struct {
	existingCustomerID string
	tokenizeErr        error
	createSubErr       error
	token              gateway.CardToken

	customerSeq      int
	createdCustomers []gateway.CustomerRequest
	deletedCustomers []string
	tokenized        []gateway.TokenizeCardRequest
	createdSubs      []gateway.CreateSubscriptionRequest
	cardUpdates      []string
}

func (f *fakeGateway) GetSubscription(ctx context.Context, id string) (*gateway.Subscription, error) {
	return nil, nil
}

func (f *fakeGateway) GetPayments(ctx context.Context, subscriptionID string) ([]gateway.Payment, error) {
	return nil, nil
}

func (f *fakeGateway) DeletePayment(ctx context.Context, paymentID string) (bool, error) {
	return false, nil
}

func (f *fakeGateway) UpdateSubscription(ctx context.Context, id string, req gateway.UpdateSubscriptionRequest) (*gateway.Subscription, error) {
	return nil, nil
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, req gateway.CreateSubscriptionRequest) (*gateway.Subscription, error) {
	if f.createSubErr != nil {
		return nil, f.createSubErr
	}
	f.createdSubs = append(f.createdSubs, req)
	return &gateway.Subscription{
		ID:          "sub_new",
		CustomerID:  req.CustomerID,
		Status:      "ACTIVE",
		Value:       req.Value,
		NextDueDate: req.NextDueDate,
	}, nil
}

func (f *fakeGateway) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	return true, nil
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	f.customerSeq++
	f.createdCustomers = append(f.createdCustomers, req)
	return fmt.Sprintf("cus_%d", f.customerSeq), nil
}

func (f *fakeGateway) FindCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	return f.existingCustomerID, nil
}

func (f *fakeGateway) DeleteCustomer(ctx context.Context, id string) error {
	f.deletedCustomers = append(f.deletedCustomers, id)
	return nil
}

func (f *fakeGateway) TokenizeCard(ctx context.Context, req gateway.TokenizeCardRequest) (*gateway.CardToken, error) {
	if f.tokenizeErr != nil {
		return nil, f.tokenizeErr
	}
	f.tokenized = append(f.tokenized, req)
	tok := f.token
	return &tok, nil
}

func (f *fakeGateway) UpdateSubscriptionCard(ctx context.Context, subscriptionID, cardToken, remoteIP string) error {
	f.cardUpdates = append(f.cardUpdates, subscriptionID)
	return nil
}

type fakeEntitlement struct {
	existingViewer *entitlement.Viewer
	grantErr       error

	createdViewers []entitlement.NewViewerRequest
	grants         [][]string
	revokes        [][]string
}

func (f *fakeEntitlement) FindViewer(ctx context.Context, login string) (*entitlement.Viewer, error) {
	return f.existingViewer, nil
}

func (f *fakeEntitlement) CreateViewer(ctx context.Context, req entitlement.NewViewerRequest) (*entitlement.Viewer, error) {
	f.createdViewers = append(f.createdViewers, req)
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

	customerRepo customerdomain.Repository
	orderRepo    orderdomain.Repository

	svc registrationdomain.Service

	plan plandomain.Plan
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
		&customerdomain.Customer{},
		&customerdomain.Consent{},
		&customerdomain.CreditCard{},
		&orderdomain.Order{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(fixtureToday.Add(9 * time.Hour))

	plan := plandomain.Plan{
		ID:          node.Generate(),
		Name:        "Premium",
		Value:       d("100"),
		Cycle:       plandomain.CycleMonthly,
		BillingType: "CREDIT_CARD",
		FreeForDays: 7,
	}
	plans := &fakePlanService{plans: map[string]plandomain.Plan{
		plan.ID.String(): plan,
	}}
	planRepo := &fakePlanRepo{packageCodes: map[snowflake.ID][]string{
		plan.ID: {"PREMIUM", "SPORTS"},
	}}

	gw := &fakeGateway{
		token: gateway.CardToken{Token: "tok_1", Brand: "VISA", Number: "8829"},
	}
	ent := &fakeEntitlement{}
	coupons := &fakeCouponService{plans: plans}

	customerRepo := customerrepository.Provide()
	orderRepo := orderrepository.Provide()

	svc := NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fc,
		Customers:   customerRepo,
		Orders:      orderRepo,
		PlanRepo:    planRepo,
		Plans:       plans,
		Coupons:     coupons,
		Gateway:     gw,
		Entitlement: ent,
	})

	return &fixture{
		db:           db,
		clock:        fc,
		node:         node,
		plans:        plans,
		coupons:      coupons,
		gw:           gw,
		ent:          ent,
		customerRepo: customerRepo,
		orderRepo:    orderRepo,
		svc:          svc,
		plan:         plan,
	}
}

func (f *fixture) registerRequest() registrationdomain.RegisterRequest {
	return registrationdomain.RegisterRequest{
		Login:    "Maria.Silva",
		Name:     "Maria Silva",
		Document: "123.456.789-09",
		Email:    "Maria@Example.com",
		Mobile:   "(11) 99999-0000",
		PlanID:   f.plan.ID.String(),
		Card: gateway.CardDetails{
			HolderName:  "MARIA SILVA",
			Number:      "4111111111118829",
			ExpiryMonth: "12",
			ExpiryYear:  "2030",
			CCV:         "123",
		},
		RemoteIP:  "203.0.113.9",
		UserAgent: "test-agent",
	}
}

// Tests

func TestRegister(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, f.registerRequest())
	require.NoError(t, err)

	assert.Equal(t, "8841", resp.ViewerID)
	assert.True(t, resp.Value.Equal(d("100")))
	assert.Equal(t, "100,00", resp.FormattedValue)

	customer, err := f.customerRepo.FindByID(ctx, f.db, resp.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "maria.silva", customer.Login)
	assert.Equal(t, "12345678909", customer.Document)
	assert.Equal(t, "maria@example.com", customer.Email)
	assert.Equal(t, "11999990000", customer.Mobile)
	assert.Equal(t, "cus_1", customer.GatewayCustomerID)
	assert.Equal(t, "tok_1", customer.CreditCardToken)
	assert.Equal(t, "VISA", customer.CreditCardBrand)
	assert.Equal(t, "8829", customer.CreditCardNumber)
	assert.Nil(t, customer.CouponID)

	order, err := f.orderRepo.FindByID(ctx, f.db, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, f.plan.ID, order.PlanID)
	assert.True(t, order.Value.Equal(d("100")))
	assert.True(t, order.OriginalPlanValue.Equal(d("100")))
	assert.Equal(t, plandomain.CycleMonthly, order.Cycle)
	assert.Equal(t, "sub_new", order.GatewaySubscriptionID)
	assert.Equal(t, orderdomain.OrderStatusActive, order.Status)
	assert.True(t, order.NextDueDate.Equal(fixtureToday.AddDate(0, 0, 7)))
	require.NotNil(t, order.ConsentID)

	var consent customerdomain.Consent
	require.NoError(t, f.db.First(&consent, "id = ?", *order.ConsentID).Error)
	assert.Equal(t, "203.0.113.9", consent.IPAddress)
	assert.Equal(t, "test-agent", consent.UserAgent)

	require.Len(t, f.gw.createdSubs, 1)
	sub := f.gw.createdSubs[0]
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "tok_1", sub.CreditCardToken)
	assert.Equal(t, "MONTHLY", sub.Cycle)
	assert.True(t, sub.NextDueDate.Equal(order.NextDueDate))

	require.Len(t, f.ent.grants, 1)
	assert.Equal(t, []string{"PREMIUM", "SPORTS"}, f.ent.grants[0])
	require.Len(t, f.ent.createdViewers, 1)
	assert.Equal(t, "maria.silva", f.ent.createdViewers[0].Login)
}

func TestRegisterLoginTaken(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:       f.node.Generate(),
		Login:    "maria.silva",
		Document: "99999999999",
	}).Error)

	_, err := f.svc.Register(ctx, f.registerRequest())
	assert.ErrorIs(t, err, customerdomain.ErrLoginTaken)
	assert.Empty(t, f.gw.createdCustomers)
	assert.Empty(t, f.gw.tokenized)
}

func TestRegisterDocumentTaken(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:       f.node.Generate(),
		Login:    "someone.else",
		Document: "12345678909",
	}).Error)

	_, err := f.svc.Register(ctx, f.registerRequest())
	assert.ErrorIs(t, err, customerdomain.ErrDocumentTaken)
	assert.Empty(t, f.gw.createdCustomers)
}

func TestRegisterReusesExternalAccounts(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.gw.existingCustomerID = "cus_existing"
	f.ent.existingViewer = &entitlement.Viewer{ID: "7001", Login: "maria.silva"}

	resp, err := f.svc.Register(ctx, f.registerRequest())
	require.NoError(t, err)

	assert.Equal(t, "7001", resp.ViewerID)
	assert.Empty(t, f.gw.createdCustomers)
	assert.Empty(t, f.ent.createdViewers)

	customer, err := f.customerRepo.FindByID(ctx, f.db, resp.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", customer.GatewayCustomerID)
	assert.Equal(t, "7001", customer.ViewerID)
}

func TestRegisterTokenizeFailureRemovesGatewayCustomer(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.gw.tokenizeErr = gateway.ErrRejected

	_, err := f.svc.Register(ctx, f.registerRequest())
	assert.ErrorIs(t, err, gateway.ErrRejected)

	require.Len(t, f.gw.createdCustomers, 1)
	assert.Equal(t, []string{"cus_1"}, f.gw.deletedCustomers)

	var count int64
	require.NoError(t, f.db.Model(&customerdomain.Customer{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRegisterCouponDiscount(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	coupon := &coupondomain.Coupon{
		ID:      f.node.Generate(),
		Name:    "WELCOME40",
		Percent: d("60"),
		Cod:     "PROMO",
	}
	f.coupons.resolution = &coupondomain.Resolution{
		Coupon:          coupon,
		DiscountedValue: d("40"),
		FormattedValue:  "40.00",
	}

	req := f.registerRequest()
	req.CouponName = "WELCOME40"
	resp, err := f.svc.Register(ctx, req)
	require.NoError(t, err)

	assert.True(t, resp.Value.Equal(d("40")))

	customer, err := f.customerRepo.FindByID(ctx, f.db, resp.CustomerID)
	require.NoError(t, err)
	require.NotNil(t, customer.CouponID)
	assert.Equal(t, coupon.ID, *customer.CouponID)

	order, err := f.orderRepo.FindByID(ctx, f.db, resp.OrderID)
	require.NoError(t, err)
	assert.True(t, order.Value.Equal(d("40")))
	assert.True(t, order.OriginalPlanValue.Equal(d("100")))

	require.Len(t, f.ent.grants, 1)
	assert.Equal(t, []string{"PROMO", "PREMIUM", "SPORTS"}, f.ent.grants[0])
}

func TestRegisterFreeOrderSkipsSubscription(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.coupons.resolution = &coupondomain.Resolution{
		Coupon: &coupondomain.Coupon{
			ID:      f.node.Generate(),
			Name:    "FREE100",
			Percent: d("100"),
		},
		DiscountedValue: d("0"),
		FormattedValue:  "0.00",
	}

	req := f.registerRequest()
	req.CouponName = "FREE100"
	resp, err := f.svc.Register(ctx, req)
	require.NoError(t, err)

	assert.Empty(t, f.gw.createdSubs)

	order, err := f.orderRepo.FindByID(ctx, f.db, resp.OrderID)
	require.NoError(t, err)
	assert.Empty(t, order.GatewaySubscriptionID)
	assert.True(t, order.Value.IsZero())
}

func TestRegisterGrantFailureRollsBack(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.ent.grantErr = entitlement.ErrFailed

	_, err := f.svc.Register(ctx, f.registerRequest())
	assert.ErrorIs(t, err, entitlement.ErrFailed)
	assert.Empty(t, f.gw.createdSubs)

	var customers, orders int64
	require.NoError(t, f.db.Model(&customerdomain.Customer{}).Count(&customers).Error)
	require.NoError(t, f.db.Model(&orderdomain.Order{}).Count(&orders).Error)
	assert.Zero(t, customers)
	assert.Zero(t, orders)
}

func TestChangeCard(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, f.registerRequest())
	require.NoError(t, err)

	f.gw.token = gateway.CardToken{Token: "tok_2", Brand: "MASTERCARD", Number: "4444"}

	changed, err := f.svc.ChangeCard(ctx, registrationdomain.ChangeCardRequest{
		OrderID: resp.OrderID.String(),
		Card: gateway.CardDetails{
			HolderName:  "MARIA SILVA",
			Number:      "5555555555554444",
			ExpiryMonth: "01",
			ExpiryYear:  "2031",
			CCV:         "321",
		},
		RemoteIP: "203.0.113.9",
	})
	require.NoError(t, err)
	assert.Equal(t, "MASTERCARD", changed.Brand)
	assert.Equal(t, "4444", changed.Number)

	assert.Equal(t, []string{"sub_new"}, f.gw.cardUpdates)

	customer, err := f.customerRepo.FindByID(ctx, f.db, resp.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "tok_2", customer.CreditCardToken)
	assert.Equal(t, "MASTERCARD", customer.CreditCardBrand)

	var archived []customerdomain.CreditCard
	require.NoError(t, f.db.Find(&archived).Error)
	require.Len(t, archived, 1)
	assert.Equal(t, "VISA", archived[0].CreditCardBrand)
	assert.Equal(t, "8829", archived[0].CreditCardNumber)
}

func TestChangeCardUnchanged(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Register(ctx, f.registerRequest())
	require.NoError(t, err)

	_, err = f.svc.ChangeCard(ctx, registrationdomain.ChangeCardRequest{
		OrderID:  resp.OrderID.String(),
		Card:     f.registerRequest().Card,
		RemoteIP: "203.0.113.9",
	})
	assert.ErrorIs(t, err, customerdomain.ErrCardUnchanged)
	assert.Empty(t, f.gw.cardUpdates)
	// Rejected before reaching for the gateway: only the enrollment call.
	assert.Len(t, f.gw.tokenized, 1)

	var archived int64
	require.NoError(t, f.db.Model(&customerdomain.CreditCard{}).Count(&archived).Error)
	assert.Zero(t, archived)
}
