package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tvloop/billing/internal/config"
	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var oneHundred = decimal.NewFromInt(100)

type Service struct {
	log   *zap.Logger
	repo  coupondomain.Repository
	plans plandomain.Service
	rules *config.BillingRulesHolder
}

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	Repo  coupondomain.Repository
	Plans plandomain.Service
	Rules *config.BillingRulesHolder
}

func NewService(p ServiceParam) coupondomain.Service {
	return &Service{
		log:   p.Log.Named("coupon.service"),
		repo:  p.Repo,
		plans: p.Plans,
		rules: p.Rules,
	}
}

// Resolve implements domain.Service. It is a pure lookup plus arithmetic:
// no state is mutated on any path.
func (s *Service) Resolve(ctx context.Context, req coupondomain.ResolveRequest) (coupondomain.Resolution, error) {
	plan, err := s.plans.Get(ctx, req.PlanID)
	if err != nil {
		if err == plandomain.ErrNotFound || err == plandomain.ErrInvalidPlan {
			return coupondomain.Resolution{}, coupondomain.ErrInvalidCoupon
		}
		return coupondomain.Resolution{}, err
	}

	couponName := strings.TrimSpace(req.CouponName)
	if couponName == "" {
		return coupondomain.Resolution{
			DiscountedValue: plan.Value,
			FormattedValue:  coupondomain.FormatAmount(plan.Value),
		}, nil
	}

	coupon, err := s.repo.FindByName(ctx, couponName)
	if err != nil {
		return coupondomain.Resolution{}, err
	}
	if coupon == nil || !coupon.IsActive {
		s.log.Info("coupon rejected",
			zap.String("coupon", couponName),
			zap.String("plan_id", req.PlanID),
		)
		return coupondomain.Resolution{}, coupondomain.ErrInvalidCoupon
	}

	discounted := Discount(plan.Value, coupon.Percent)

	minimum := decimal.NewFromFloat(s.rules.Get().MinimumCharge)
	if discounted.IsPositive() && discounted.LessThanOrEqual(minimum) {
		s.log.Info("coupon value below minimum charge",
			zap.String("coupon", couponName),
			zap.String("plan_id", req.PlanID),
			zap.String("final_value", discounted.StringFixed(2)),
		)
		return coupondomain.Resolution{}, coupondomain.ErrBelowMinimumCharge
	}

	return coupondomain.Resolution{
		Coupon:          coupon,
		DiscountedValue: discounted,
		FormattedValue:  coupondomain.FormatAmount(discounted),
	}, nil
}

// Discount applies a percent discount to a plan value, floored at zero.
func Discount(planValue, percent decimal.Decimal) decimal.Decimal {
	discounted := planValue.Sub(planValue.Mul(percent).Div(oneHundred))
	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted
}
