package payments

import (
	"fmt"

	"github.com/bsos-ops/bsos/backend/internal/store"
)

// HandlerError wraps any failure after verification and before the ledger
// commit. The event stays unprocessed and is retried on redelivery.
type HandlerError struct {
	EventID string
	Kind    EventKind
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("payments: handle %s (%s): %v", e.EventID, e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// OutOfOrderError is returned when a subscription update or deletion arrives
// before the subscription exists locally.
type OutOfOrderError struct {
	Kind           EventKind
	SubscriptionID string
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("payments: %s references unknown subscription %s", e.Kind, e.SubscriptionID)
}

func (e *OutOfOrderError) Unwrap() error { return store.ErrNotFound }

// UnhandledEventError means a recognised kind has no route. It is a wiring
// bug, never a property of the incoming event.
type UnhandledEventError struct {
	Kind EventKind
}

func (e *UnhandledEventError) Error() string {
	return fmt.Sprintf("payments: no handler routed for %s", e.Kind)
}
