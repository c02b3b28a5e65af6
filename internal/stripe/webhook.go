package stripe

import (
	"errors"
	"fmt"
	"time"

	gostripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// SignatureHeader is the request header carrying the provider signature.
const SignatureHeader = "Stripe-Signature"

// SignatureReason classifies why a payload failed verification.
type SignatureReason string

const (
	ReasonUnconfigured SignatureReason = "unconfigured"
	ReasonMissing      SignatureReason = "missing"
	ReasonMalformed    SignatureReason = "malformed"
	ReasonExpired      SignatureReason = "expired"
	ReasonMismatch     SignatureReason = "mismatch"
	ReasonPayload      SignatureReason = "payload"
)

// SignatureError is returned for any payload that cannot be verified.
type SignatureError struct {
	Reason SignatureReason
	Err    error
}

func (e *SignatureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("stripe: signature %s", e.Reason)
	}
	return fmt.Sprintf("stripe: signature %s: %v", e.Reason, e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }

var errSecretUnset = errors.New("webhook secret is not configured")

// Verifier checks webhook payloads against the shared signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier returns a Verifier. An empty secret makes every call fail.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify authenticates payload, which must be the byte-exact request body,
// and decodes it into an event.
func (v *Verifier) Verify(payload []byte, header string) (gostripe.Event, error) {
	if v == nil || v.secret == "" {
		return gostripe.Event{}, &SignatureError{Reason: ReasonUnconfigured, Err: errSecretUnset}
	}
	if header == "" {
		return gostripe.Event{}, &SignatureError{Reason: ReasonMissing, Err: webhook.ErrNotSigned}
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return gostripe.Event{}, &SignatureError{Reason: classify(err), Err: err}
	}
	if event.ID == "" || event.Type == "" {
		return gostripe.Event{}, &SignatureError{Reason: ReasonPayload, Err: errors.New("event id or type missing")}
	}

	return event, nil
}

func classify(err error) SignatureReason {
	switch {
	case errors.Is(err, webhook.ErrNotSigned):
		return ReasonMissing
	case errors.Is(err, webhook.ErrInvalidHeader):
		return ReasonMalformed
	case errors.Is(err, webhook.ErrTooOld):
		return ReasonExpired
	case errors.Is(err, webhook.ErrNoValidSignature):
		return ReasonMismatch
	default:
		return ReasonPayload
	}
}
