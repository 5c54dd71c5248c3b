package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	// FindByIDForUpdate takes a row lock so concurrent plan changes for the
	// same order serialize instead of both reading stale value/due-date.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindActiveByCustomerAndPlan(ctx context.Context, db *gorm.DB, customerID, planID snowflake.ID) (*Order, error)
	Update(ctx context.Context, db *gorm.DB, order *Order) error
}

var (
	ErrInvalidOrder = errors.New("invalid_order")
	ErrNotFound     = errors.New("order_not_found")
)
