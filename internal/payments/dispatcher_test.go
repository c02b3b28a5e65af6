package payments

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gostripe "github.com/stripe/stripe-go/v74"
)

func TestParseEventKindRoundTrip(t *testing.T) {
	for _, kind := range KnownKinds() {
		assert.Equal(t, kind, ParseEventKind(kind.String()), kind.String())
	}
	assert.Equal(t, KindUnrecognized, ParseEventKind("charge.refunded"))
	assert.Equal(t, KindUnrecognized, ParseEventKind(""))
	assert.Equal(t, "unrecognized", KindUnrecognized.String())
}

func TestDispatcherRoutesEveryKnownKind(t *testing.T) {
	d := NewDispatcher(NewHandlers(newMemStore(), nil), zerolog.Nop())
	require.NoError(t, d.Validate())
}

func TestDispatcherValidateReportsMissingRoute(t *testing.T) {
	d := newDispatcher(map[EventKind]HandlerFunc{
		KindInvoicePaymentSucceeded: func(context.Context, gostripe.Event) error { return nil },
	}, zerolog.Nop())

	var unhandled *UnhandledEventError
	require.ErrorAs(t, d.Validate(), &unhandled)
	assert.Equal(t, KindInvoicePaymentFailed, unhandled.Kind)
}

func TestDispatchMisconfiguredRouteFails(t *testing.T) {
	d := newDispatcher(map[EventKind]HandlerFunc{}, zerolog.Nop())

	err := d.Dispatch(context.Background(), gostripe.Event{ID: "evt_1", Type: "invoice.payment_failed"})

	var unhandled *UnhandledEventError
	require.ErrorAs(t, err, &unhandled)
}

func TestDispatchUnrecognizedIsNoop(t *testing.T) {
	called := false
	d := newDispatcher(map[EventKind]HandlerFunc{
		KindInvoicePaymentSucceeded: func(context.Context, gostripe.Event) error {
			called = true
			return nil
		},
	}, zerolog.Nop())

	require.NoError(t, d.Dispatch(context.Background(), gostripe.Event{ID: "evt_1", Type: "balance.available"}))
	assert.False(t, called)
}

func TestHandlerRejectsEventWithoutObject(t *testing.T) {
	h := NewHandlers(newMemStore(), nil)

	err := h.InvoicePaymentSucceeded(context.Background(), gostripe.Event{ID: "evt_1", Type: "invoice.payment_succeeded"})
	require.Error(t, err)

	err = h.SubscriptionCreated(context.Background(), gostripe.Event{
		ID:   "evt_2",
		Type: "customer.subscription.created",
		Data: &gostripe.EventData{Raw: json.RawMessage(`{"object":"subscription"}`)},
	})
	require.Error(t, err)
}
