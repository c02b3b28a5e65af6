package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	gostripe "github.com/stripe/stripe-go/v74"

	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/stripe"
)

const (
	subscriptionSyncAttempts = 5
	invoiceBackfillAttempts  = 3
)

// ProviderClient is the subset of the provider API the reconciliation jobs read.
type ProviderClient interface {
	GetSubscription(ctx context.Context, id string) (*gostripe.Subscription, error)
	ListInvoicesSince(ctx context.Context, since time.Time, fn func(*gostripe.Invoice) error) error
}

// RecordWriter persists reconciled provider state.
type RecordWriter interface {
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	UpsertInvoicePayment(ctx context.Context, p *models.Payment) error
}

// RegisterReconcileJobs registers the subscription sync and invoice backfill handlers.
func RegisterReconcileJobs(w *Worker, provider ProviderClient, records RecordWriter) {
	w.RegisterHandler(models.JobTypeSubscriptionSync, subscriptionSyncHandler(w, provider, records))
	w.RegisterHandler(models.JobTypeInvoiceBackfill, invoiceBackfillHandler(w, provider, records))

	w.logger.Info().
		Strs("job_types", []string{models.JobTypeSubscriptionSync, models.JobTypeInvoiceBackfill}).
		Msg("registered reconciliation job handlers")
}

func subscriptionSyncHandler(w *Worker, provider ProviderClient, records RecordWriter) Handler {
	return func(ctx context.Context, job *models.Job) error {
		id := job.Payload.String("subscription_id")
		if id == "" {
			return errors.New("missing subscription_id in payload")
		}

		sub, err := provider.GetSubscription(ctx, id)
		if err != nil {
			return err
		}

		rec := stripe.SubscriptionFromStripe(sub)
		if err := records.UpsertSubscription(ctx, &rec); err != nil {
			return fmt.Errorf("upsert subscription %s: %w", id, err)
		}

		w.logger.Info().
			Int64("job_id", job.ID).
			Str("subscription_id", id).
			Str("status", string(rec.Status)).
			Msg("subscription synced")
		return nil
	}
}

func invoiceBackfillHandler(w *Worker, provider ProviderClient, records RecordWriter) Handler {
	return func(ctx context.Context, job *models.Job) error {
		sec, ok := job.Payload.Int64("since")
		if !ok {
			return errors.New("missing since in payload")
		}
		since := time.Unix(sec, 0).UTC()

		var written, skipped int
		err := provider.ListInvoicesSince(ctx, since, func(inv *gostripe.Invoice) error {
			status, settled := invoiceStatus(inv.Status)
			if !settled {
				skipped++
				return nil
			}

			p := stripe.PaymentFromInvoice(inv, status, time.Unix(inv.Created, 0))
			if err := records.UpsertInvoicePayment(ctx, &p); err != nil {
				return fmt.Errorf("upsert invoice %s: %w", inv.ID, err)
			}
			written++
			return nil
		})
		if err != nil {
			return err
		}

		w.logger.Info().
			Int64("job_id", job.ID).
			Time("since", since).
			Int("written", written).
			Int("skipped", skipped).
			Msg("invoice backfill finished")
		return nil
	}
}

// invoiceStatus maps settled invoice states onto payment statuses. Open and
// draft invoices are left to their webhooks.
func invoiceStatus(s gostripe.InvoiceStatus) (models.PaymentStatus, bool) {
	switch s {
	case gostripe.InvoiceStatusPaid:
		return models.PaymentStatusPaid, true
	case gostripe.InvoiceStatusUncollectible:
		return models.PaymentStatusFailed, true
	}
	return "", false
}

// RequestSubscriptionSync enqueues a high priority pull of one subscription.
func (w *Worker) RequestSubscriptionSync(ctx context.Context, stripeSubscriptionID string) error {
	if stripeSubscriptionID == "" {
		return errors.New("subscription id is required")
	}
	return w.Enqueue(ctx, &models.Job{
		JobType:     models.JobTypeSubscriptionSync,
		Payload:     models.JSONB{"subscription_id": stripeSubscriptionID},
		Priority:    models.JobPriorityHigh,
		MaxAttempts: subscriptionSyncAttempts,
	})
}

// RequestInvoiceBackfill enqueues a backfill of invoices created at or after since.
func (w *Worker) RequestInvoiceBackfill(ctx context.Context, since time.Time) (*models.Job, error) {
	job := &models.Job{
		JobType:     models.JobTypeInvoiceBackfill,
		Payload:     models.JSONB{"since": since.Unix()},
		Priority:    models.JobPriorityLow,
		MaxAttempts: invoiceBackfillAttempts,
	}
	if err := w.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}
