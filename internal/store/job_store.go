package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsos-ops/bsos/backend/internal/models"
)

// ErrJobNotFound is returned when a job is not found in the database
var ErrJobNotFound = errors.New("job not found")

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts,
	created_at, updated_at, scheduled_for, last_error, retry_after,
	started_at, completed_at, worker_id`

// JobStore provides database operations for the reconciliation job queue
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore instance
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &JobStore{db: db}, nil
}

// Enqueue creates a new job in the queue
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	query := `
		INSERT INTO jobs (job_type, payload, status, priority, max_attempts, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, created_at, updated_at
	`

	status := models.JobStatusPending
	if job.Status != "" {
		status = job.Status
	}

	err := s.db.QueryRowContext(
		ctx,
		query,
		job.JobType,
		job.Payload,
		status,
		job.Priority,
		job.MaxAttempts,
		job.ScheduledFor,
	).Scan(&job.ID, &job.Status, &job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID
func (s *JobStore) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}

	return job, nil
}

// ClaimNextJob atomically claims the next available job for processing.
// It returns nil, nil when the queue is empty.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = $1,
		    started_at = NOW(),
		    updated_at = NOW(),
		    attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND (scheduled_for IS NULL OR scheduled_for <= NOW())
			  AND (retry_after IS NULL OR retry_after <= NOW())
			ORDER BY
				CASE priority
					WHEN 'high' THEN 3
					WHEN 'normal' THEN 2
					WHEN 'low' THEN 1
				END DESC,
				created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, workerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	return job, nil
}

// MarkCompleted marks a job as successfully completed
func (s *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = NOW(),
		    updated_at = NOW(),
		    last_error = NULL,
		    worker_id = NULL
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}

	return nil
}

// MarkFailed marks a job as permanently failed
func (s *JobStore) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $2,
		    updated_at = NOW(),
		    worker_id = NULL
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, errorMsg); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}

	return nil
}

// ScheduleRetry puts a job back to pending, not claimable before retryAfter
func (s *JobStore) ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error {
	query := `
		UPDATE jobs
		SET status = 'pending',
		    last_error = $2,
		    retry_after = $3,
		    updated_at = NOW(),
		    worker_id = NULL
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, id, errorMsg, retryAfter); err != nil {
		return fmt.Errorf("schedule job retry: %w", err)
	}

	return nil
}

// CancelJob marks a pending or failed job as cancelled
func (s *JobStore) CancelJob(ctx context.Context, id int64) error {
	query := `
		UPDATE jobs
		SET status = 'cancelled',
		    updated_at = NOW(),
		    worker_id = NULL
		WHERE id = $1 AND status IN ('pending', 'failed')
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("job %d cannot be cancelled (may be processing or already completed)", id)
	}

	return nil
}

// ReleaseJob releases a processing job back to pending (for graceful shutdown)
func (s *JobStore) ReleaseJob(ctx context.Context, id int64) error {
	query := `
		UPDATE jobs
		SET status = 'pending',
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("release job: %w", err)
	}

	return nil
}

// GetStats returns statistics about the job queue
func (s *JobStore) GetStats(ctx context.Context) (*models.JobStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COUNT(*) AS total
		FROM jobs
	`

	stats := &models.JobStats{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
		&stats.Total,
	)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}

	return stats, nil
}

// CleanupOldJobs removes finished jobs last touched before the cutoff
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < NOW() - INTERVAL '1 second' * $1
	`

	result, err := s.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var payloadJSON []byte

	err := row.Scan(
		&job.ID,
		&job.JobType,
		&payloadJSON,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ScheduledFor,
		&job.LastError,
		&job.RetryAfter,
		&job.StartedAt,
		&job.CompletedAt,
		&job.WorkerID,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = make(models.JSONB)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}

	return job, nil
}
