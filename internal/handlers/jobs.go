package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/logging"
	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/store"
)

// JobService enqueues and inspects reconciliation jobs. A nil JobService
// means reconciliation is not configured and every route answers 503.
type JobService interface {
	RequestInvoiceBackfill(ctx context.Context, since time.Time) (*models.Job, error)
	RequestSubscriptionSync(ctx context.Context, stripeSubscriptionID string) error
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	CancelJob(ctx context.Context, jobID int64) error
	GetQueueStats(ctx context.Context) (*models.JobStats, error)
}

type reconcileInvoicesRequest struct {
	Since *time.Time `json:"since"`
}

func reconcileDisabled(w http.ResponseWriter, log zerolog.Logger, jobs JobService) bool {
	if jobs == nil {
		writeError(w, log, http.StatusServiceUnavailable, "reconciliation is not configured")
		return true
	}
	return false
}

// ReconcileInvoices enqueues an invoice backfill. The optional body
// {"since": RFC3339} defaults to now minus lookback.
func ReconcileInvoices(jobs JobService, lookback time.Duration, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if reconcileDisabled(w, log, jobs) {
			return
		}

		var req reconcileInvoicesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, log, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		since := time.Now().Add(-lookback)
		if req.Since != nil {
			since = *req.Since
		}
		if since.After(time.Now()) {
			writeError(w, log, http.StatusBadRequest, "since must not be in the future")
			return
		}

		job, err := jobs.RequestInvoiceBackfill(r.Context(), since)
		if err != nil {
			log.Error().Err(err).Msg("ReconcileInvoices: enqueue failed")
			writeError(w, log, http.StatusInternalServerError, "failed to enqueue backfill")
			return
		}
		writeJSON(w, log, http.StatusAccepted, map[string]any{
			"id":     job.ID,
			"status": job.Status,
			"since":  since.UTC().Format(time.RFC3339),
		})
	}
}

// ReconcileSubscription enqueues a sync of one subscription.
func ReconcileSubscription(jobs JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if reconcileDisabled(w, log, jobs) {
			return
		}

		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, log, http.StatusBadRequest, "subscription id is required")
			return
		}

		if err := jobs.RequestSubscriptionSync(r.Context(), id); err != nil {
			log.Error().Err(err).Str("subscription_id", id).Msg("ReconcileSubscription: enqueue failed")
			writeError(w, log, http.StatusInternalServerError, "failed to enqueue sync")
			return
		}
		writeJSON(w, log, http.StatusAccepted, map[string]any{
			"subscription_id": id,
			"status":          "enqueued",
		})
	}
}

// GetJob retrieves a job by ID
func GetJob(jobs JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if reconcileDisabled(w, log, jobs) {
			return
		}

		jobID, ok := jobIDParam(w, r, log)
		if !ok {
			return
		}

		job, err := jobs.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, log, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			log.Error().Err(err).Int64("job_id", jobID).Msg("GetJob: failed to get job")
			writeError(w, log, http.StatusInternalServerError, "failed to retrieve job")
			return
		}
		writeJSON(w, log, http.StatusOK, job)
	}
}

// CancelJob cancels a pending or failed job
func CancelJob(jobs JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if reconcileDisabled(w, log, jobs) {
			return
		}

		jobID, ok := jobIDParam(w, r, log)
		if !ok {
			return
		}

		if err := jobs.CancelJob(r.Context(), jobID); err != nil {
			log.Warn().Err(err).Int64("job_id", jobID).Msg("CancelJob: failed to cancel job")
			writeError(w, log, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, log, http.StatusOK, map[string]any{
			"id":      jobID,
			"message": "Job cancelled successfully",
		})
	}
}

// GetJobStats returns statistics about the job queue
func GetJobStats(jobs JobService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context(), logger)
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		if reconcileDisabled(w, log, jobs) {
			return
		}

		stats, err := jobs.GetQueueStats(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("GetJobStats: failed to get stats")
			writeError(w, log, http.StatusInternalServerError, "failed to retrieve job statistics")
			return
		}
		writeJSON(w, log, http.StatusOK, stats)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request, log zerolog.Logger) (int64, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		writeError(w, log, http.StatusBadRequest, "job ID is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, log, http.StatusBadRequest, "invalid job ID")
		return 0, false
	}
	return id, true
}
