package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/tvloop/billing/internal/plan/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() plandomain.Repository {
	return &repository{}
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).
		Preload("Packages").
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListActive(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("value asc").
		Find(&plans).Error
	return plans, err
}

func (r *repository) PackageCodes(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]string, error) {
	var codes []string
	err := db.WithContext(ctx).Raw(
		`SELECT p.cod
		 FROM packages p
		 JOIN plan_packages pp ON pp.package_id = p.id
		 WHERE pp.plan_id = ?`,
		planID,
	).Scan(&codes).Error
	return codes, err
}
