package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/tvloop/billing/internal/customer/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() customerdomain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, customer *customerdomain.Customer) error {
	return db.WithContext(ctx).Create(customer).Error
}

func (r *repository) InsertConsent(ctx context.Context, db *gorm.DB, consent *customerdomain.Consent) error {
	return db.WithContext(ctx).Create(consent).Error
}

func (r *repository) InsertCreditCard(ctx context.Context, db *gorm.DB, card *customerdomain.CreditCard) error {
	return db.WithContext(ctx).Create(card).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*customerdomain.Customer, error) {
	var customer customerdomain.Customer
	err := db.WithContext(ctx).Where("id = ?", id).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) ExistsByLogin(ctx context.Context, db *gorm.DB, login string) (bool, error) {
	return r.exists(ctx, db, "login = ?", login)
}

func (r *repository) ExistsByDocument(ctx context.Context, db *gorm.DB, document string) (bool, error) {
	return r.exists(ctx, db, "document = ?", document)
}

func (r *repository) exists(ctx context.Context, db *gorm.DB, cond string, value string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&customerdomain.Customer{}).Where(cond, value).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, customer *customerdomain.Customer) error {
	return db.WithContext(ctx).Save(customer).Error
}
