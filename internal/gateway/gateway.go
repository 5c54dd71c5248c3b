// Package gateway defines the payment-gateway capability the billing core
// consumes. The gateway owns subscription billing timing: its pending
// payments are the source of truth for the next due date, so callers fetch
// them per operation and never cache them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the gateway's charge state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentOverdue   PaymentStatus = "OVERDUE"
	PaymentReceived  PaymentStatus = "RECEIVED"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Subscription is the gateway's view of a recurring charge.
type Subscription struct {
	ID          string
	CustomerID  string
	Status      string
	Value       decimal.Decimal
	NextDueDate time.Time
}

// Payment is one charge under a subscription.
type Payment struct {
	ID      string
	Value   decimal.Decimal
	Status  PaymentStatus
	DueDate time.Time
}

type UpdateSubscriptionRequest struct {
	BillingType       string
	Value             decimal.Decimal
	NextDueDate       time.Time
	Description       string
	ExternalReference string
}

type CreateSubscriptionRequest struct {
	CustomerID        string
	BillingType       string
	Value             decimal.Decimal
	NextDueDate       time.Time
	Cycle             string
	Description       string
	ExternalReference string
	CreditCardToken   string
}

type CustomerRequest struct {
	Name     string
	Document string
	Email    string
	Mobile   string
}

type CardDetails struct {
	HolderName  string
	Number      string
	ExpiryMonth string
	ExpiryYear  string
	CCV         string
}

type TokenizeCardRequest struct {
	CustomerID string
	Card       CardDetails
	RemoteIP   string
}

// CardToken is what the gateway returns after tokenization; Number is the
// masked card number, safe to store.
type CardToken struct {
	Token  string
	Brand  string
	Number string
}

// Client is the outbound capability. Implementations must honor context
// deadlines; a timed-out or unreachable gateway surfaces ErrUnavailable,
// a provider-side refusal surfaces a RejectionError.
type Client interface {
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	GetPayments(ctx context.Context, subscriptionID string) ([]Payment, error)
	DeletePayment(ctx context.Context, paymentID string) (bool, error)
	UpdateSubscription(ctx context.Context, id string, req UpdateSubscriptionRequest) (*Subscription, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	DeleteSubscription(ctx context.Context, id string) (bool, error)
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	FindCustomer(ctx context.Context, req CustomerRequest) (string, error)
	DeleteCustomer(ctx context.Context, id string) error
	TokenizeCard(ctx context.Context, req TokenizeCardRequest) (*CardToken, error)
	UpdateSubscriptionCard(ctx context.Context, subscriptionID, cardToken, remoteIP string) error
}

// ErrUnavailable means the gateway could not be reached or timed out.
// The operation may be retried.
var ErrUnavailable = errors.New("gateway_unavailable")

// ErrRejected means the gateway processed the request and refused it.
// Retrying the same request will fail the same way.
var ErrRejected = errors.New("gateway_rejected")

// RejectionError wraps ErrRejected with the provider-supplied reason.
type RejectionError struct {
	Description string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s", e.Description)
}

func (e *RejectionError) Unwrap() error { return ErrRejected }
