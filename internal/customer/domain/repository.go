package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	InsertConsent(ctx context.Context, db *gorm.DB, consent *Consent) error
	InsertCreditCard(ctx context.Context, db *gorm.DB, card *CreditCard) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	ExistsByLogin(ctx context.Context, db *gorm.DB, login string) (bool, error)
	ExistsByDocument(ctx context.Context, db *gorm.DB, document string) (bool, error)
	Update(ctx context.Context, db *gorm.DB, customer *Customer) error
}
