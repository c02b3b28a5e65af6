package models

import "time"

// PaymentStatus is the locally recorded state of a payment.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
	PaymentStatusPending PaymentStatus = "PENDING"
)

// Valid reports whether s is one of the known payment statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusPending:
		return true
	}
	return false
}

// SubscriptionStatus mirrors the provider's subscription status values. It is
// recorded as reported and never derived locally.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// Payment mirrors a provider invoice or payment intent. Exactly one of
// StripeInvoiceID and StripePaymentIntentID is set.
type Payment struct {
	ID                    int64         `json:"id"`
	StripeInvoiceID       *string       `json:"stripe_invoice_id,omitempty"`
	StripePaymentIntentID *string       `json:"stripe_payment_intent_id,omitempty"`
	StripeCustomerID      string        `json:"stripe_customer_id"`
	Amount                int64         `json:"amount"`
	Currency              string        `json:"currency"`
	Status                PaymentStatus `json:"status"`
	PaidAt                *time.Time    `json:"paid_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Subscription mirrors a provider subscription. Cancellation is a status, rows
// are never deleted.
type Subscription struct {
	ID                   int64              `json:"id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	CanceledAt           *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// WebhookEvent is the idempotency record for a provider event.
type WebhookEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Processed   bool       `json:"processed"`
	ReceivedAt  time.Time  `json:"received_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error,omitempty"`
}

// PaymentFilter narrows payment listings. Zero values mean "any".
type PaymentFilter struct {
	CustomerID string
	Status     PaymentStatus
	From       *time.Time
	To         *time.Time
	Limit      int
}

// SubscriptionFilter narrows subscription listings. Zero values mean "any".
type SubscriptionFilter struct {
	CustomerID string
	Status     SubscriptionStatus
	Limit      int
}
