// Package domain contains customer identity and payment-instrument records.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer holds the subscriber identity plus the external ids assigned by
// the payment gateway (GatewayCustomerID) and the entitlement provider
// (ViewerID). Card fields keep only the token, brand and masked number the
// gateway returns after tokenization; raw card data is never stored.
type Customer struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	Login             string        `gorm:"type:text;not null;uniqueIndex" json:"login"`
	Name              string        `gorm:"type:text;not null" json:"name"`
	Document          string        `gorm:"type:text;not null;uniqueIndex" json:"document"`
	Email             string        `gorm:"type:text;not null" json:"email"`
	Mobile            string        `gorm:"type:text" json:"mobile"`
	GatewayCustomerID string        `gorm:"type:text;index" json:"gateway_customer_id"`
	ViewerID          string        `gorm:"type:text" json:"viewer_id"`
	CouponID          *snowflake.ID `gorm:"" json:"coupon_id,omitempty"`
	CreditCardToken   string        `gorm:"type:text" json:"-"`
	CreditCardBrand   string        `gorm:"type:text" json:"credit_card_brand,omitempty"`
	CreditCardNumber  string        `gorm:"type:text" json:"credit_card_number,omitempty"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

// CreditCard archives a previously active card when the customer swaps in
// a new one.
type CreditCard struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID       snowflake.ID `gorm:"not null;index" json:"customer_id"`
	CreditCardToken  string       `gorm:"type:text;not null" json:"-"`
	CreditCardBrand  string       `gorm:"type:text" json:"credit_card_brand"`
	CreditCardNumber string       `gorm:"type:text" json:"credit_card_number"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditCard) TableName() string { return "customer_credit_cards" }

// Consent records the terms acceptance captured at registration. IP and
// user agent are passed in by the caller, never read from ambient state.
type Consent struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID  snowflake.ID `gorm:"not null;index" json:"customer_id"`
	IPAddress   string       `gorm:"type:text" json:"ip_address"`
	UserAgent   string       `gorm:"type:text" json:"user_agent"`
	ConsentedAt time.Time    `gorm:"not null" json:"consented_at"`
}

// TableName sets the database table name.
func (Consent) TableName() string { return "consents" }

var (
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrNotFound        = errors.New("customer_not_found")
	ErrLoginTaken      = errors.New("login_taken")
	ErrDocumentTaken   = errors.New("document_taken")
	ErrCardUnchanged   = errors.New("card_unchanged")
)
