package stripe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74/webhook"
)

const testSecret = "whsec_test_secret"

var testPayload = []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_succeeded","created":1700000000,"data":{"object":{"id":"in_1","object":"invoice"}}}`)

func sign(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

func requireReason(t *testing.T, err error, want SignatureReason) {
	t.Helper()
	var sigErr *SignatureError
	require.True(t, errors.As(err, &sigErr), "expected *SignatureError, got %v", err)
	assert.Equal(t, want, sigErr.Reason)
}

func TestVerifyAcceptsSignedPayload(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)

	event, err := v.Verify(testPayload, sign(testPayload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "invoice.payment_succeeded", string(event.Type))
	assert.JSONEq(t, `{"id":"in_1","object":"invoice"}`, string(event.Data.Raw))
}

func TestVerifyFailsClosedWithoutSecret(t *testing.T) {
	v := NewVerifier("", time.Minute)

	_, err := v.Verify(testPayload, sign(testPayload, testSecret, time.Now()))
	requireReason(t, err, ReasonUnconfigured)
}

func TestVerifyRejections(t *testing.T) {
	now := time.Now()
	v := NewVerifier(testSecret, 5*time.Minute)

	tampered := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_succeeded","created":1700000001,"data":{"object":{"id":"in_1","object":"invoice"}}}`)
	notJSON := []byte(`not json`)
	noID := []byte(`{"object":"event","type":"invoice.payment_failed"}`)

	cases := []struct {
		name    string
		payload []byte
		header  string
		reason  SignatureReason
	}{
		{name: "missing header", payload: testPayload, header: "", reason: ReasonMissing},
		{name: "malformed header", payload: testPayload, header: "garbage", reason: ReasonMalformed},
		{name: "expired timestamp", payload: testPayload, header: sign(testPayload, testSecret, now.Add(-time.Hour)), reason: ReasonExpired},
		{name: "wrong secret", payload: testPayload, header: sign(testPayload, "whsec_other", now), reason: ReasonMismatch},
		{name: "tampered body", payload: tampered, header: sign(testPayload, testSecret, now), reason: ReasonMismatch},
		{name: "undecodable body", payload: notJSON, header: sign(notJSON, testSecret, now), reason: ReasonPayload},
		{name: "event without id", payload: noID, header: sign(noID, testSecret, now), reason: ReasonPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.payload, tc.header)
			requireReason(t, err, tc.reason)
		})
	}
}

func TestSignatureErrorUnwraps(t *testing.T) {
	err := &SignatureError{Reason: ReasonExpired, Err: webhook.ErrTooOld}
	assert.ErrorIs(t, err, webhook.ErrTooOld)
	assert.Contains(t, err.Error(), "expired")
}
