package payments

// EventKind is the closed set of provider event types the pipeline handles.
// Anything else parses to KindUnrecognized.
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindInvoicePaymentSucceeded
	KindInvoicePaymentFailed
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindPaymentIntentSucceeded
	KindPaymentIntentFailed
)

var kindTypes = map[EventKind]string{
	KindInvoicePaymentSucceeded: "invoice.payment_succeeded",
	KindInvoicePaymentFailed:    "invoice.payment_failed",
	KindSubscriptionCreated:     "customer.subscription.created",
	KindSubscriptionUpdated:     "customer.subscription.updated",
	KindSubscriptionDeleted:     "customer.subscription.deleted",
	KindPaymentIntentSucceeded:  "payment_intent.succeeded",
	KindPaymentIntentFailed:     "payment_intent.payment_failed",
}

var typeKinds = func() map[string]EventKind {
	m := make(map[string]EventKind, len(kindTypes))
	for k, t := range kindTypes {
		m[t] = k
	}
	return m
}()

// ParseEventKind maps a provider event type string to its kind.
func ParseEventKind(eventType string) EventKind {
	if k, ok := typeKinds[eventType]; ok {
		return k
	}
	return KindUnrecognized
}

// KnownKinds lists every recognised kind in declaration order.
func KnownKinds() []EventKind {
	return []EventKind{
		KindInvoicePaymentSucceeded,
		KindInvoicePaymentFailed,
		KindSubscriptionCreated,
		KindSubscriptionUpdated,
		KindSubscriptionDeleted,
		KindPaymentIntentSucceeded,
		KindPaymentIntentFailed,
	}
}

// String returns the provider event type, or "unrecognized".
func (k EventKind) String() string {
	if t, ok := kindTypes[k]; ok {
		return t
	}
	return "unrecognized"
}
