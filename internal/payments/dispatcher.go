package payments

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gostripe "github.com/stripe/stripe-go/v74"

	"github.com/bsos-ops/bsos/backend/internal/metrics"
)

// Dispatcher routes verified events to their domain handler.
type Dispatcher struct {
	routes map[EventKind]HandlerFunc
	logger zerolog.Logger
}

// NewDispatcher builds the static routing table over h.
func NewDispatcher(h *Handlers, logger zerolog.Logger) *Dispatcher {
	return newDispatcher(map[EventKind]HandlerFunc{
		KindInvoicePaymentSucceeded: h.InvoicePaymentSucceeded,
		KindInvoicePaymentFailed:    h.InvoicePaymentFailed,
		KindSubscriptionCreated:     h.SubscriptionCreated,
		KindSubscriptionUpdated:     h.SubscriptionUpdated,
		KindSubscriptionDeleted:     h.SubscriptionDeleted,
		KindPaymentIntentSucceeded:  h.PaymentIntentSucceeded,
		KindPaymentIntentFailed:     h.PaymentIntentFailed,
	}, logger)
}

func newDispatcher(routes map[EventKind]HandlerFunc, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		routes: routes,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Validate reports the first known kind without a route.
func (d *Dispatcher) Validate() error {
	for _, kind := range KnownKinds() {
		if d.routes[kind] == nil {
			return &UnhandledEventError{Kind: kind}
		}
	}
	return nil
}

// Dispatch runs the handler for event. Unrecognised event types are
// acknowledged without error.
func (d *Dispatcher) Dispatch(ctx context.Context, event gostripe.Event) error {
	kind := ParseEventKind(string(event.Type))
	if kind == KindUnrecognized {
		d.logger.Info().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("no handler for event type, acknowledging")
		return nil
	}

	handle := d.routes[kind]
	if handle == nil {
		return &UnhandledEventError{Kind: kind}
	}

	start := time.Now()
	err := handle(ctx, event)
	metrics.ObserveHandler(kind.String(), time.Since(start))
	return err
}
