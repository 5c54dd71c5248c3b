// Package service implements the onboarding workflow. External accounts
// (gateway customer, card token, viewer) are created before the local
// transaction; the order and its gateway subscription are created inside
// it so a late failure rolls the local records back.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tvloop/billing/internal/clock"
	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	customerdomain "github.com/tvloop/billing/internal/customer/domain"
	"github.com/tvloop/billing/internal/entitlement"
	"github.com/tvloop/billing/internal/gateway"
	"github.com/tvloop/billing/internal/observability/metrics"
	orderdomain "github.com/tvloop/billing/internal/order/domain"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	registrationdomain "github.com/tvloop/billing/internal/registration/domain"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	customers customerdomain.Repository
	orders    orderdomain.Repository
	planRepo  plandomain.Repository

	plans   plandomain.Service
	coupons coupondomain.Service

	gw  gateway.Client
	ent entitlement.Provider

	metrics *metrics.BillingMetrics
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Customers customerdomain.Repository
	Orders    orderdomain.Repository
	PlanRepo  plandomain.Repository

	Plans   plandomain.Service
	Coupons coupondomain.Service

	Gateway     gateway.Client
	Entitlement entitlement.Provider
}

func NewService(p ServiceParam) registrationdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("registration.service"),

		genID: p.GenID,
		clock: p.Clock,

		customers: p.Customers,
		orders:    p.Orders,
		planRepo:  p.PlanRepo,

		plans:   p.Plans,
		coupons: p.Coupons,

		gw:  p.Gateway,
		ent: p.Entitlement,

		metrics: metrics.Billing(),
	}
}

// Register implements domain.Service.
func (s *Service) Register(ctx context.Context, req registrationdomain.RegisterRequest) (registrationdomain.RegisterResponse, error) {
	resp, err := s.register(ctx, req)
	if err != nil {
		s.metrics.RecordRegistration("failed")
		return registrationdomain.RegisterResponse{}, err
	}
	s.metrics.RecordRegistration("registered")
	return resp, nil
}

func (s *Service) register(ctx context.Context, req registrationdomain.RegisterRequest) (registrationdomain.RegisterResponse, error) {
	req = normalizeRegister(req)
	if req.Login == "" || req.Document == "" || req.PlanID == "" {
		return registrationdomain.RegisterResponse{}, registrationdomain.ErrInvalidRegistration
	}

	if taken, err := s.customers.ExistsByLogin(ctx, s.db, req.Login); err != nil {
		return registrationdomain.RegisterResponse{}, err
	} else if taken {
		return registrationdomain.RegisterResponse{}, customerdomain.ErrLoginTaken
	}
	if taken, err := s.customers.ExistsByDocument(ctx, s.db, req.Document); err != nil {
		return registrationdomain.RegisterResponse{}, err
	} else if taken {
		return registrationdomain.RegisterResponse{}, customerdomain.ErrDocumentTaken
	}

	plan, err := s.plans.Get(ctx, req.PlanID)
	if err != nil {
		return registrationdomain.RegisterResponse{}, err
	}

	// Price the order up front so a bad coupon fails before any external
	// account exists.
	resolution, err := s.coupons.Resolve(ctx, coupondomain.ResolveRequest{
		CouponName: req.CouponName,
		PlanID:     req.PlanID,
	})
	if err != nil {
		return registrationdomain.RegisterResponse{}, err
	}

	gatewayCustomerID, err := s.ensureGatewayCustomer(ctx, req)
	if err != nil {
		return registrationdomain.RegisterResponse{}, err
	}

	card, err := s.gw.TokenizeCard(ctx, gateway.TokenizeCardRequest{
		CustomerID: gatewayCustomerID,
		Card:       req.Card,
		RemoteIP:   req.RemoteIP,
	})
	if err != nil {
		// The gateway customer was created for this registration; take it
		// back out so a retry starts clean. Best-effort.
		s.log.Error("card tokenization failed, removing gateway customer",
			zap.String("gateway_customer_id", gatewayCustomerID),
			zap.Error(err),
		)
		if delErr := s.gw.DeleteCustomer(ctx, gatewayCustomerID); delErr != nil {
			s.log.Warn("gateway customer cleanup failed",
				zap.String("gateway_customer_id", gatewayCustomerID),
				zap.Error(delErr),
			)
		}
		return registrationdomain.RegisterResponse{}, err
	}

	viewer, err := s.ensureViewer(ctx, req)
	if err != nil {
		return registrationdomain.RegisterResponse{}, err
	}

	now := s.clock.Now()
	customer := &customerdomain.Customer{
		ID:                s.genID.Generate(),
		Login:             req.Login,
		Name:              req.Name,
		Document:          req.Document,
		Email:             req.Email,
		Mobile:            req.Mobile,
		GatewayCustomerID: gatewayCustomerID,
		ViewerID:          viewer.ID,
		CreditCardToken:   card.Token,
		CreditCardBrand:   card.Brand,
		CreditCardNumber:  card.Number,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if resolution.Coupon != nil {
		couponID := resolution.Coupon.ID
		customer.CouponID = &couponID
	}

	var order *orderdomain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.customers.Insert(ctx, tx, customer); err != nil {
			return err
		}

		consent := &customerdomain.Consent{
			ID:          s.genID.Generate(),
			CustomerID:  customer.ID,
			IPAddress:   req.RemoteIP,
			UserAgent:   req.UserAgent,
			ConsentedAt: now,
		}
		if err := s.customers.InsertConsent(ctx, tx, consent); err != nil {
			return err
		}

		consentID := consent.ID
		order = &orderdomain.Order{
			ID:                s.genID.Generate(),
			CustomerID:        customer.ID,
			PlanID:            plan.ID,
			Value:             resolution.DiscountedValue,
			OriginalPlanValue: plan.Value,
			Cycle:             plan.Cycle,
			BillingType:       plan.BillingType,
			Description:       "Subscription to plan " + plan.Name,
			GatewayCustomerID: gatewayCustomerID,
			Status:            orderdomain.OrderStatusActive,
			PaymentStatus:     orderdomain.PaymentStatusPending,
			NextDueDate:       clock.Today(s.clock).AddDate(0, 0, plan.FreeForDays),
			ConsentID:         &consentID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.orders.Insert(ctx, tx, order); err != nil {
			return err
		}

		if err := s.grantInitialPackages(ctx, tx, viewer.ID, plan.ID, resolution.Coupon); err != nil {
			return err
		}

		return s.createGatewaySubscription(ctx, tx, customer, order, plan)
	})
	if err != nil {
		return registrationdomain.RegisterResponse{}, err
	}

	s.log.Info("customer registered",
		zap.String("customer_id", customer.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("viewer_id", viewer.ID),
	)

	return registrationdomain.RegisterResponse{
		CustomerID:     customer.ID,
		OrderID:        order.ID,
		ViewerID:       viewer.ID,
		Value:          order.Value,
		FormattedValue: coupondomain.FormatAmount(order.Value),
	}, nil
}

// ensureGatewayCustomer reuses an existing gateway customer with the same
// document before creating a new one.
func (s *Service) ensureGatewayCustomer(ctx context.Context, req registrationdomain.RegisterRequest) (string, error) {
	lookup := gateway.CustomerRequest{
		Name:     req.Name,
		Document: req.Document,
		Email:    req.Email,
		Mobile:   req.Mobile,
	}

	existing, err := s.gw.FindCustomer(ctx, lookup)
	if err != nil {
		return "", err
	}
	if existing != "" {
		s.log.Info("gateway customer reused", zap.String("gateway_customer_id", existing))
		return existing, nil
	}

	created, err := s.gw.CreateCustomer(ctx, lookup)
	if err != nil {
		return "", err
	}
	if created == "" {
		return "", fmt.Errorf("create gateway customer: %w", gateway.ErrRejected)
	}
	return created, nil
}

func (s *Service) ensureViewer(ctx context.Context, req registrationdomain.RegisterRequest) (*entitlement.Viewer, error) {
	viewer, err := s.ent.FindViewer(ctx, req.Login)
	if err != nil {
		return nil, err
	}
	if viewer != nil {
		s.log.Info("viewer reused",
			zap.String("viewer_id", viewer.ID),
			zap.String("login", req.Login),
		)
		return viewer, nil
	}

	return s.ent.CreateViewer(ctx, entitlement.NewViewerRequest{
		Login:    req.Login,
		Name:     req.Name,
		Document: req.Document,
		Email:    req.Email,
	})
}

// grantInitialPackages grants the plan's packages, plus the coupon's own
// package code when the coupon carries one.
func (s *Service) grantInitialPackages(ctx context.Context, tx *gorm.DB, viewerID string, planID snowflake.ID, coupon *coupondomain.Coupon) error {
	codes, err := s.planRepo.PackageCodes(ctx, tx, planID)
	if err != nil {
		return err
	}
	if coupon != nil && coupon.Cod != "" {
		codes = append([]string{coupon.Cod}, codes...)
	}
	if err := s.ent.Grant(ctx, viewerID, codes); err != nil {
		return fmt.Errorf("grant initial packages: %w", err)
	}
	return nil
}

// createGatewaySubscription opens the recurring charge. A free-of-charge
// order gets no subscription: there is nothing to bill.
func (s *Service) createGatewaySubscription(ctx context.Context, tx *gorm.DB, customer *customerdomain.Customer, order *orderdomain.Order, plan plandomain.Plan) error {
	if !order.Value.IsPositive() {
		s.log.Info("no gateway subscription for free order",
			zap.String("order_id", order.ID.String()),
		)
		return nil
	}

	sub, err := s.gw.CreateSubscription(ctx, gateway.CreateSubscriptionRequest{
		CustomerID:        customer.GatewayCustomerID,
		BillingType:       plan.BillingType,
		Value:             order.Value,
		NextDueDate:       order.NextDueDate,
		Cycle:             string(plan.Cycle),
		Description:       "Subscription to plan " + plan.Name,
		ExternalReference: "order:" + order.ID.String(),
		CreditCardToken:   customer.CreditCardToken,
	})
	if err != nil {
		return err
	}

	order.GatewaySubscriptionID = sub.ID
	if sub.Status != "" {
		order.Status = orderdomain.OrderStatus(sub.Status)
	}
	order.UpdatedAt = s.clock.Now()
	return s.orders.Update(ctx, tx, order)
}

// ChangeCard implements domain.Service.
func (s *Service) ChangeCard(ctx context.Context, req registrationdomain.ChangeCardRequest) (registrationdomain.ChangeCardResponse, error) {
	orderID, err := snowflake.ParseString(strings.TrimSpace(req.OrderID))
	if err != nil || orderID == 0 {
		return registrationdomain.ChangeCardResponse{}, orderdomain.ErrInvalidOrder
	}

	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return registrationdomain.ChangeCardResponse{}, err
	}
	if order == nil {
		return registrationdomain.ChangeCardResponse{}, orderdomain.ErrNotFound
	}
	customer, err := s.customers.FindByID(ctx, s.db, order.CustomerID)
	if err != nil {
		return registrationdomain.ChangeCardResponse{}, err
	}
	if customer == nil {
		return registrationdomain.ChangeCardResponse{}, customerdomain.ErrNotFound
	}

	// Reject a same-number card before spending a tokenization call.
	if newLast4 := last4(req.Card.Number); newLast4 != "" &&
		customer.CreditCardNumber != "" && newLast4 == last4(customer.CreditCardNumber) {
		return registrationdomain.ChangeCardResponse{}, customerdomain.ErrCardUnchanged
	}

	card, err := s.gw.TokenizeCard(ctx, gateway.TokenizeCardRequest{
		CustomerID: customer.GatewayCustomerID,
		Card:       req.Card,
		RemoteIP:   req.RemoteIP,
	})
	if err != nil {
		return registrationdomain.ChangeCardResponse{}, err
	}

	if order.GatewaySubscriptionID != "" {
		if err := s.gw.UpdateSubscriptionCard(ctx, order.GatewaySubscriptionID, card.Token, req.RemoteIP); err != nil {
			return registrationdomain.ChangeCardResponse{}, err
		}
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if customer.CreditCardToken != "" {
			archived := &customerdomain.CreditCard{
				ID:               s.genID.Generate(),
				CustomerID:       customer.ID,
				CreditCardToken:  customer.CreditCardToken,
				CreditCardBrand:  customer.CreditCardBrand,
				CreditCardNumber: customer.CreditCardNumber,
				CreatedAt:        now,
			}
			if err := s.customers.InsertCreditCard(ctx, tx, archived); err != nil {
				return err
			}
		}

		customer.CreditCardToken = card.Token
		customer.CreditCardBrand = card.Brand
		customer.CreditCardNumber = card.Number
		customer.UpdatedAt = now
		return s.customers.Update(ctx, tx, customer)
	})
	if err != nil {
		return registrationdomain.ChangeCardResponse{}, err
	}

	s.log.Info("card changed",
		zap.String("customer_id", customer.ID.String()),
		zap.String("brand", card.Brand),
	)

	return registrationdomain.ChangeCardResponse{
		Brand:  card.Brand,
		Number: card.Number,
	}, nil
}

func normalizeRegister(req registrationdomain.RegisterRequest) registrationdomain.RegisterRequest {
	req.Login = strings.ToLower(strings.TrimSpace(req.Login))
	req.Name = strings.TrimSpace(req.Name)
	req.Document = digitsOnly(req.Document)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Mobile = digitsOnly(req.Mobile)
	return req
}

// digitsOnly strips punctuation from documents and phone numbers.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func last4(number string) string {
	n := digitsOnly(number)
	if len(n) < 4 {
		return ""
	}
	return n[len(n)-4:]
}
