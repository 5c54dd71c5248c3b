package repository

import (
	"context"
	"strings"

	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
	"github.com/tvloop/billing/pkg/repository"
	"gorm.io/gorm"
)

type couponRepository struct {
	store repository.Repository[coupondomain.Coupon]
}

func Provide(db *gorm.DB) coupondomain.Repository {
	return &couponRepository{
		store: repository.ProvideStore[coupondomain.Coupon](db),
	}
}

func (r *couponRepository) FindByName(ctx context.Context, name string) (*coupondomain.Coupon, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	return r.store.FindOne(ctx, &coupondomain.Coupon{Name: name})
}
