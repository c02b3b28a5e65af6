// Package payments is the webhook reconciliation pipeline: it verifies a
// provider delivery, deduplicates it against the idempotency ledger, routes
// it to a domain handler and commits the ledger only after the handler's
// write is durable.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gostripe "github.com/stripe/stripe-go/v74"

	"github.com/bsos-ops/bsos/backend/internal/metrics"
	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/stripe"
)

const (
	defaultClaimLease = 2 * time.Minute
	releaseTimeout    = 5 * time.Second
)

// Verifier authenticates a raw delivery.
type Verifier interface {
	Verify(payload []byte, header string) (gostripe.Event, error)
}

// Ledger is the idempotency ledger.
type Ledger interface {
	RecordIfNew(ctx context.Context, eventID, eventType string) (bool, error)
	GetEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	Reclaim(ctx context.Context, eventID string, lease time.Duration) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
}

// Backfiller asks for an asynchronous pull of provider state.
type Backfiller interface {
	RequestSubscriptionSync(ctx context.Context, stripeSubscriptionID string) error
}

// Outcome describes how a verified delivery was resolved.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInFlight  Outcome = "in_flight"
	OutcomeIgnored   Outcome = "ignored"
)

// Result is returned for every delivery that passed verification.
type Result struct {
	EventID   string
	EventType string
	Kind      EventKind
	Outcome   Outcome
}

// Pipeline processes webhook deliveries end to end.
type Pipeline struct {
	verifier   Verifier
	ledger     Ledger
	dispatcher *Dispatcher
	backfill   Backfiller
	lease      time.Duration
	logger     zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBackfiller requests a subscription sync whenever an update or deletion
// arrives for an unknown subscription.
func WithBackfiller(b Backfiller) Option {
	return func(p *Pipeline) { p.backfill = b }
}

// WithClaimLease sets how long an unfinished claim blocks other deliveries.
func WithClaimLease(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.lease = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(verifier Verifier, ledger Ledger, dispatcher *Dispatcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		verifier:   verifier,
		ledger:     ledger,
		dispatcher: dispatcher,
		lease:      defaultClaimLease,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "webhook_pipeline").Logger()
	return p
}

// Process handles one delivery. Verification failures return a
// *stripe.SignatureError and touch nothing. A delivery that finds the event
// processed, or held by another delivery, succeeds without running handlers.
// Any other error leaves the event unprocessed so the provider's retry
// re-runs it.
func (p *Pipeline) Process(ctx context.Context, payload []byte, signature string) (Result, error) {
	event, err := p.verifier.Verify(payload, signature)
	if err != nil {
		reason := "unknown"
		var sigErr *stripe.SignatureError
		if errors.As(err, &sigErr) {
			reason = string(sigErr.Reason)
		}
		metrics.IncSignatureFailure(reason)
		p.logger.Warn().Err(err).Str("reason", reason).Msg("rejected webhook signature")
		return Result{}, err
	}

	res := Result{
		EventID:   event.ID,
		EventType: string(event.Type),
		Kind:      ParseEventKind(string(event.Type)),
	}
	log := p.logger.With().Str("event_id", res.EventID).Str("event_type", res.EventType).Logger()

	claimed, outcome, err := p.claim(ctx, res)
	if err != nil {
		return res, err
	}
	if !claimed {
		res.Outcome = outcome
		metrics.IncWebhookEvent(res.EventType, string(res.Outcome))
		log.Debug().Str("outcome", string(res.Outcome)).Msg("duplicate delivery acknowledged")
		return res, nil
	}

	if err := p.dispatcher.Dispatch(ctx, event); err != nil {
		return res, p.fail(ctx, log, res, err)
	}

	if err := p.ledger.MarkProcessed(ctx, res.EventID); err != nil {
		return res, p.fail(ctx, log, res, fmt.Errorf("commit ledger: %w", err))
	}

	res.Outcome = OutcomeProcessed
	if res.Kind == KindUnrecognized {
		res.Outcome = OutcomeIgnored
	}
	metrics.IncWebhookEvent(res.EventType, string(res.Outcome))
	log.Info().Str("outcome", string(res.Outcome)).Msg("webhook event handled")
	return res, nil
}

// claim returns true when this delivery owns the event. Otherwise the
// outcome says whether the event was already processed or is held by
// another delivery whose claim has not expired.
func (p *Pipeline) claim(ctx context.Context, res Result) (bool, Outcome, error) {
	isNew, err := p.ledger.RecordIfNew(ctx, res.EventID, res.EventType)
	if err != nil {
		return false, "", fmt.Errorf("payments: record event %s: %w", res.EventID, err)
	}
	if isNew {
		return true, "", nil
	}

	seen, err := p.ledger.GetEvent(ctx, res.EventID)
	if err != nil {
		return false, "", fmt.Errorf("payments: load event %s: %w", res.EventID, err)
	}
	if seen.Processed {
		return false, OutcomeDuplicate, nil
	}

	reclaimed, err := p.ledger.Reclaim(ctx, res.EventID, p.lease)
	if err != nil {
		return false, "", fmt.Errorf("payments: reclaim event %s: %w", res.EventID, err)
	}
	if !reclaimed {
		return false, OutcomeInFlight, nil
	}

	p.logger.Info().
		Str("event_id", res.EventID).
		Int("attempts", seen.Attempts+1).
		Msg("retrying unprocessed webhook event")
	return true, "", nil
}

func (p *Pipeline) fail(ctx context.Context, log zerolog.Logger, res Result, err error) error {
	// Cleanup runs even when the request itself was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	var outOfOrder *OutOfOrderError
	if errors.As(err, &outOfOrder) {
		log.Warn().Err(err).Str("subscription_id", outOfOrder.SubscriptionID).Msg("subscription event arrived before its subscription")
		if p.backfill != nil {
			if berr := p.backfill.RequestSubscriptionSync(ctx, outOfOrder.SubscriptionID); berr != nil {
				log.Warn().Err(berr).Msg("could not request subscription sync")
			}
		}
	} else {
		log.Error().Err(err).Msg("webhook handler failed")
	}

	if merr := p.ledger.MarkFailed(ctx, res.EventID, err.Error()); merr != nil {
		log.Error().Err(merr).Msg("could not release webhook event claim")
	}

	metrics.IncWebhookEvent(res.EventType, "failed")
	return &HandlerError{EventID: res.EventID, Kind: res.Kind, Err: err}
}
