package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gostripe "github.com/stripe/stripe-go/v74"

	"github.com/bsos-ops/bsos/backend/internal/metrics"
	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/store"
	"github.com/bsos-ops/bsos/backend/internal/stripe"
)

// RecordStore is the financial record store as used by the domain handlers.
type RecordStore interface {
	UpsertInvoicePayment(ctx context.Context, p *models.Payment) error
	UpsertPaymentIntentPayment(ctx context.Context, p *models.Payment) error
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	CancelSubscription(ctx context.Context, stripeSubscriptionID string, at time.Time) error
}

// HandlerFunc applies one verified, deduplicated event to the record store.
type HandlerFunc func(ctx context.Context, event gostripe.Event) error

// Handlers holds the domain handlers. Each performs a single idempotent
// write, so running one twice for the same event has no further effect.
type Handlers struct {
	store RecordStore
	now   func() time.Time
}

// NewHandlers creates the domain handlers. now defaults to time.Now.
func NewHandlers(records RecordStore, now func() time.Time) *Handlers {
	if now == nil {
		now = time.Now
	}
	return &Handlers{store: records, now: now}
}

func (h *Handlers) InvoicePaymentSucceeded(ctx context.Context, event gostripe.Event) error {
	return h.invoicePayment(ctx, event, models.PaymentStatusPaid)
}

func (h *Handlers) InvoicePaymentFailed(ctx context.Context, event gostripe.Event) error {
	return h.invoicePayment(ctx, event, models.PaymentStatusFailed)
}

func (h *Handlers) invoicePayment(ctx context.Context, event gostripe.Event, status models.PaymentStatus) error {
	var inv gostripe.Invoice
	if err := decodeObject(event, &inv); err != nil {
		return err
	}
	if inv.ID == "" {
		return errors.New("invoice id missing from event")
	}

	p := stripe.PaymentFromInvoice(&inv, status, stripe.EventTime(event))
	if err := h.store.UpsertInvoicePayment(ctx, &p); err != nil {
		return err
	}
	metrics.IncPaymentUpsert(string(p.Status))
	return nil
}

func (h *Handlers) PaymentIntentSucceeded(ctx context.Context, event gostripe.Event) error {
	return h.paymentIntent(ctx, event, models.PaymentStatusPaid)
}

func (h *Handlers) PaymentIntentFailed(ctx context.Context, event gostripe.Event) error {
	return h.paymentIntent(ctx, event, models.PaymentStatusFailed)
}

func (h *Handlers) paymentIntent(ctx context.Context, event gostripe.Event, status models.PaymentStatus) error {
	var pi gostripe.PaymentIntent
	if err := decodeObject(event, &pi); err != nil {
		return err
	}
	if pi.ID == "" {
		return errors.New("payment intent id missing from event")
	}

	p := stripe.PaymentFromPaymentIntent(&pi, status, stripe.EventTime(event))
	if err := h.store.UpsertPaymentIntentPayment(ctx, &p); err != nil {
		return err
	}
	metrics.IncPaymentUpsert(string(p.Status))
	return nil
}

func (h *Handlers) SubscriptionCreated(ctx context.Context, event gostripe.Event) error {
	sub, err := decodeSubscription(event)
	if err != nil {
		return err
	}

	rec := stripe.SubscriptionFromStripe(sub)
	if err := h.store.UpsertSubscription(ctx, &rec); err != nil {
		return err
	}
	metrics.IncSubscriptionWrite(string(rec.Status))
	return nil
}

func (h *Handlers) SubscriptionUpdated(ctx context.Context, event gostripe.Event) error {
	sub, err := decodeSubscription(event)
	if err != nil {
		return err
	}

	rec := stripe.SubscriptionFromStripe(sub)
	err = h.store.UpdateSubscription(ctx, &rec)
	if errors.Is(err, store.ErrNotFound) {
		return &OutOfOrderError{Kind: KindSubscriptionUpdated, SubscriptionID: sub.ID}
	}
	if err != nil {
		return err
	}
	metrics.IncSubscriptionWrite(string(rec.Status))
	return nil
}

func (h *Handlers) SubscriptionDeleted(ctx context.Context, event gostripe.Event) error {
	sub, err := decodeSubscription(event)
	if err != nil {
		return err
	}

	err = h.store.CancelSubscription(ctx, sub.ID, h.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return &OutOfOrderError{Kind: KindSubscriptionDeleted, SubscriptionID: sub.ID}
	}
	if err != nil {
		return err
	}
	metrics.IncSubscriptionWrite(string(models.SubscriptionStatusCanceled))
	return nil
}

func decodeSubscription(event gostripe.Event) (*gostripe.Subscription, error) {
	var sub gostripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, errors.New("subscription id missing from event")
	}
	return &sub, nil
}

func decodeObject(event gostripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("event %s has no data object", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("decode %s object: %w", event.Type, err)
	}
	return nil
}
