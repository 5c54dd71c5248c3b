package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	changedomain "github.com/tvloop/billing/internal/planchange/domain"
)

type repository struct{}

func Provide() changedomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, change *changedomain.PlanChange) error {
	return db.WithContext(ctx).Create(change).Error
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, change *changedomain.PlanChange) error {
	return db.WithContext(ctx).Save(change).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*changedomain.PlanChange, error) {
	var change changedomain.PlanChange
	err := db.WithContext(ctx).Where("id = ?", id).First(&change).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, changedomain.ErrChangeNotFound
		}
		return nil, err
	}
	return &change, nil
}

func (r *repository) ListUnfinished(ctx context.Context, db *gorm.DB, before time.Time) ([]changedomain.PlanChange, error) {
	var changes []changedomain.PlanChange
	err := db.WithContext(ctx).
		Where("state NOT IN ?", []changedomain.State{changedomain.StatePersisted, changedomain.StateAbandoned}).
		Where("updated_at < ?", before).
		Order("updated_at ASC").
		Find(&changes).Error
	if err != nil {
		return nil, err
	}
	return changes, nil
}
