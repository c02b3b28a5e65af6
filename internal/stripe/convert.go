package stripe

import (
	"strings"
	"time"

	gostripe "github.com/stripe/stripe-go/v74"

	"github.com/bsos-ops/bsos/backend/internal/models"
)

// PaymentFromInvoice maps an invoice to a Payment keyed by the invoice id.
// Paid invoices report the paid amount, anything else the amount due.
func PaymentFromInvoice(inv *gostripe.Invoice, status models.PaymentStatus, fallbackPaidAt time.Time) models.Payment {
	id := inv.ID
	p := models.Payment{
		StripeInvoiceID:  &id,
		StripeCustomerID: customerID(inv.Customer),
		Amount:           inv.AmountDue,
		Currency:         strings.ToLower(string(inv.Currency)),
		Status:           status,
	}

	if status == models.PaymentStatusPaid {
		p.Amount = inv.AmountPaid
		paidAt := fallbackPaidAt
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
			paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0)
		}
		p.PaidAt = utcPtr(paidAt)
	}

	return p
}

// PaymentFromPaymentIntent maps a payment intent to a Payment keyed by the intent id.
func PaymentFromPaymentIntent(pi *gostripe.PaymentIntent, status models.PaymentStatus, paidAt time.Time) models.Payment {
	id := pi.ID
	p := models.Payment{
		StripePaymentIntentID: &id,
		StripeCustomerID:      customerID(pi.Customer),
		Amount:                pi.Amount,
		Currency:              strings.ToLower(string(pi.Currency)),
		Status:                status,
	}

	if status == models.PaymentStatusPaid {
		if pi.AmountReceived > 0 {
			p.Amount = pi.AmountReceived
		}
		p.PaidAt = utcPtr(paidAt)
	}

	return p
}

// SubscriptionFromStripe maps a provider subscription to the mirrored record.
func SubscriptionFromStripe(sub *gostripe.Subscription) models.Subscription {
	return models.Subscription{
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     customerID(sub.Customer),
		Status:               models.SubscriptionStatus(sub.Status),
		CurrentPeriodStart:   unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixPtr(sub.CurrentPeriodEnd),
		CanceledAt:           unixPtr(sub.CanceledAt),
	}
}

// EventTime returns the event creation time in UTC.
func EventTime(event gostripe.Event) time.Time {
	return time.Unix(event.Created, 0).UTC()
}

func customerID(c *gostripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	return utcPtr(time.Unix(sec, 0))
}

func utcPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
