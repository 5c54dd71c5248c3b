package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo plandomain.Repository
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo plandomain.Repository
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("plan.service"),
		repo: p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, id string) (plandomain.Plan, error) {
	planID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || planID == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidPlan
	}

	plan, err := s.repo.FindByID(ctx, s.db, planID)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrNotFound
	}

	return *plan, nil
}

// Catalog returns active plans grouped by cycle, ordered cheapest first.
// The active cycle is the first cycle that has at least one plan.
func (s *Service) Catalog(ctx context.Context) (plandomain.Catalog, error) {
	plans, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return plandomain.Catalog{}, err
	}

	byCycle := lo.GroupBy(plans, func(plan plandomain.Plan) plandomain.BillingCycle {
		return plan.Cycle
	})

	ordered := []plandomain.BillingCycle{
		plandomain.CycleWeekly,
		plandomain.CycleBiweekly,
		plandomain.CycleMonthly,
		plandomain.CycleBimonthly,
		plandomain.CycleQuarterly,
		plandomain.CycleSemiannually,
		plandomain.CycleYearly,
	}
	cycles := lo.Filter(ordered, func(cycle plandomain.BillingCycle, _ int) bool {
		return len(byCycle[cycle]) > 0
	})

	catalog := plandomain.Catalog{
		Cycles:       cycles,
		PlansByCycle: byCycle,
	}
	if len(cycles) > 0 {
		catalog.ActiveCycle = cycles[0]
	}

	return catalog, nil
}
