// Package proration computes the financials of a mid-cycle plan change.
// The engine is pure: it takes a snapshot of the order and its gateway
// payments and answers with amounts and dates, leaving all side effects to
// the caller.
package proration

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tvloop/billing/internal/gateway"
)

// Input is the snapshot the engine works from. Values are the effective
// charge amounts: NewValue must already have any coupon discount applied.
type Input struct {
	Today        time.Time
	CycleDays    int
	CurrentValue decimal.Decimal
	NewValue     decimal.Decimal
	NextDueDate  time.Time
	Payments     []gateway.Payment
}

// Result describes what the caller must do: charge InvoiceValue with the
// subscription due on EffectiveDueDate, and on an upgrade first delete the
// payments listed in PendingPaymentIDs.
type Result struct {
	Upgrade  bool
	Deferred bool

	DaysRemaining int
	DaysUsed      int

	DailyRate    decimal.Decimal
	Credit       decimal.Decimal
	InvoiceValue decimal.Decimal

	EffectiveDueDate  time.Time
	PendingPaymentIDs []string
	HasPaidPayment    bool
}

var hundred = decimal.NewFromInt(100)

// Compute applies the plan-change rules. A more expensive plan is an
// upgrade charged on the current cycle's due date, pro-rated by the unused
// days when the cycle has a settled payment; a cheaper or equally priced
// plan is deferred to the end of the paid period.
func Compute(in Input) Result {
	dueDate := authoritativeDueDate(in)

	daysRemaining := daysBetween(in.Today, dueDate)
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	daysUsed := in.CycleDays - daysRemaining

	res := Result{
		DaysRemaining: daysRemaining,
		DaysUsed:      daysUsed,
	}
	for _, p := range in.Payments {
		switch p.Status {
		case gateway.PaymentPending:
			res.PendingPaymentIDs = append(res.PendingPaymentIDs, p.ID)
		case gateway.PaymentReceived:
			// CONFIRMED is not enough: credit is only owed once the money
			// actually landed.
			res.HasPaidPayment = true
		}
	}

	if in.NewValue.GreaterThan(in.CurrentValue) {
		res.Upgrade = true

		if !res.HasPaidPayment {
			// Nothing settled this cycle (free trial or first invoice
			// still open): no credit, keep the original due date.
			res.InvoiceValue = in.NewValue
			res.EffectiveDueDate = dueDate
			return res
		}

		// Credit the unused days at the current plan's daily rate,
		// truncated to cents so the credit never exceeds what was paid.
		res.DailyRate = in.CurrentValue.
			Div(decimal.NewFromInt(int64(in.CycleDays))).
			Mul(hundred).Floor().Div(hundred)
		res.Credit = res.DailyRate.Mul(decimal.NewFromInt(int64(daysRemaining)))

		res.InvoiceValue = in.NewValue.Sub(res.Credit)
		if res.InvoiceValue.IsNegative() {
			res.InvoiceValue = decimal.Zero
		}
		// Billing timing is untouched; only the amount changes.
		res.EffectiveDueDate = dueDate
		return res
	}

	// Downgrade: the customer keeps what was paid for; the new price
	// starts when the remaining days run out.
	res.Deferred = true
	res.InvoiceValue = in.NewValue
	deferDays := in.CycleDays - daysUsed
	if deferDays < 0 {
		deferDays = 0
	}
	res.EffectiveDueDate = in.NextDueDate.AddDate(0, 0, deferDays)
	return res
}

// authoritativeDueDate prefers the earliest open gateway charge over the
// locally stored date, since the gateway owns billing timing.
func authoritativeDueDate(in Input) time.Time {
	due := time.Time{}
	for _, p := range in.Payments {
		if p.Status != gateway.PaymentPending && p.Status != gateway.PaymentOverdue {
			continue
		}
		if due.IsZero() || p.DueDate.Before(due) {
			due = p.DueDate
		}
	}
	if due.IsZero() {
		return in.NextDueDate
	}
	return due
}

func daysBetween(from, to time.Time) int {
	from = truncateDay(from)
	to = truncateDay(to)
	return int(to.Sub(from).Hours() / 24)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
