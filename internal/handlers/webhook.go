package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/logging"
	"github.com/bsos-ops/bsos/backend/internal/payments"
	"github.com/bsos-ops/bsos/backend/internal/stripe"
)

// maxWebhookBody caps a single delivery. Provider events are far smaller.
const maxWebhookBody = 1 << 20

// WebhookProcessor runs a raw delivery through the reconciliation pipeline.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (payments.Result, error)
}

// Webhook receives provider deliveries. The body is read raw because the
// signature covers the exact bytes sent.
//
//	200 {"received": true}  processed, duplicate, in flight elsewhere or ignored
//	400                     signature or payload rejected
//	500                     a handler or the ledger failed; the provider retries
func Webhook(processor WebhookProcessor, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)

		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			log.Warn().Err(err).Msg("could not read webhook body")
			writeError(w, log, http.StatusBadRequest, "unreadable body")
			return
		}

		res, err := processor.Process(r.Context(), payload, r.Header.Get(stripe.SignatureHeader))
		if err != nil {
			var sigErr *stripe.SignatureError
			if errors.As(err, &sigErr) {
				writeError(w, log, http.StatusBadRequest, "invalid signature")
				return
			}
			log.Error().Err(err).Str("event_id", res.EventID).Msg("webhook processing failed")
			writeError(w, log, http.StatusInternalServerError, "webhook processing failed")
			return
		}

		writeJSON(w, log, http.StatusOK, map[string]bool{"received": true})
	}
}
