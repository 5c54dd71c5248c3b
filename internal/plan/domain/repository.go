package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Plan, error)
	PackageCodes(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]string, error)
}
