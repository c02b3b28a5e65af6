package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/logging"
	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/store"
)

// RecordReader is the read side of the financial record store.
type RecordReader interface {
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error)
	ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
}

var validate = validator.New()

type listPaymentsQuery struct {
	CustomerID string `validate:"omitempty,max=255"`
	Status     string `validate:"omitempty,oneof=PAID FAILED PENDING"`
	From       string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To         string `validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit      string `validate:"omitempty,number"`
}

type listSubscriptionsQuery struct {
	CustomerID string `validate:"omitempty,max=255"`
	Status     string `validate:"omitempty,oneof=incomplete incomplete_expired trialing active past_due canceled unpaid paused"`
	Limit      string `validate:"omitempty,number"`
}

// ListPayments returns recorded payments filtered by customer, status and
// creation time range.
func ListPayments(records RecordReader, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		q := r.URL.Query()
		query := listPaymentsQuery{
			CustomerID: q.Get("customer"),
			Status:     q.Get("status"),
			From:       q.Get("from"),
			To:         q.Get("to"),
			Limit:      q.Get("limit"),
		}
		if err := validate.Struct(query); err != nil {
			writeError(w, log, http.StatusBadRequest, err.Error())
			return
		}

		filter := models.PaymentFilter{
			CustomerID: query.CustomerID,
			Status:     models.PaymentStatus(query.Status),
			From:       parseTime(query.From),
			To:         parseTime(query.To),
			Limit:      parseLimit(query.Limit),
		}

		payments, err := records.ListPayments(r.Context(), filter)
		if err != nil {
			log.Error().Err(err).Msg("ListPayments: query failed")
			writeError(w, log, http.StatusInternalServerError, "failed to list payments")
			return
		}
		if payments == nil {
			payments = []models.Payment{}
		}
		writeJSON(w, log, http.StatusOK, map[string]any{"payments": payments})
	}
}

// ListSubscriptions returns mirrored subscriptions filtered by customer and
// status. Status values are the provider's lowercase strings ("canceled").
func ListSubscriptions(records RecordReader, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		q := r.URL.Query()
		query := listSubscriptionsQuery{
			CustomerID: q.Get("customer"),
			Status:     q.Get("status"),
			Limit:      q.Get("limit"),
		}
		if err := validate.Struct(query); err != nil {
			writeError(w, log, http.StatusBadRequest, err.Error())
			return
		}

		subs, err := records.ListSubscriptions(r.Context(), models.SubscriptionFilter{
			CustomerID: query.CustomerID,
			Status:     models.SubscriptionStatus(query.Status),
			Limit:      parseLimit(query.Limit),
		})
		if err != nil {
			log.Error().Err(err).Msg("ListSubscriptions: query failed")
			writeError(w, log, http.StatusInternalServerError, "failed to list subscriptions")
			return
		}
		if subs == nil {
			subs = []models.Subscription{}
		}
		writeJSON(w, log, http.StatusOK, map[string]any{"subscriptions": subs})
	}
}

// GetSubscription returns one subscription by its provider id.
func GetSubscription(records RecordReader, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, log, http.StatusBadRequest, "subscription id is required")
			return
		}

		sub, err := records.GetSubscriptionByStripeID(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, log, http.StatusNotFound, "subscription not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("subscription_id", id).Msg("GetSubscription: query failed")
			writeError(w, log, http.StatusInternalServerError, "failed to load subscription")
			return
		}
		writeJSON(w, log, http.StatusOK, sub)
	}
}

// parseTime expects a value already validated as RFC 3339.
func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
