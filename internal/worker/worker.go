// Package worker runs the reconciliation job queue: a pool of processors
// claiming jobs from Postgres, retrying with backoff, and releasing claimed
// jobs on shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/models"
)

// Handler is a function that processes a job
type Handler func(ctx context.Context, job *models.Job) error

// Handlers maps job types to their handlers
type Handlers map[string]Handler

// Queue is the durable job queue the worker drains.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMsg string) error
	ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error
	CancelJob(ctx context.Context, id int64) error
	ReleaseJob(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*models.JobStats, error)
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Instrumentation provides hooks for monitoring job lifecycle
type Instrumentation struct {
	OnEnqueue   func(job *models.Job)
	OnStart     func(job *models.Job)
	OnComplete  func(job *models.Job, duration time.Duration)
	OnFail      func(job *models.Job, err error, duration time.Duration)
	OnRetry     func(job *models.Job, retryAfter time.Duration)
	OnCancel    func(job *models.Job)
	OnHeartbeat func(workerID string, stats Stats)
}

// Stats holds worker statistics
type Stats struct {
	JobsProcessed   int64
	JobsSucceeded   int64
	JobsFailed      int64
	JobsRetried     int64
	ActiveWorkers   int
	LastProcessedAt time.Time
}

// Config holds worker configuration
type Config struct {
	// MaxConcurrent is the maximum number of concurrent job processors
	MaxConcurrent int
	// PollInterval is the time between polling for new jobs
	PollInterval time.Duration
	// RetryBaseDelay is the base delay for exponential backoff
	RetryBaseDelay time.Duration
	// RetryMaxDelay is the maximum delay between retries
	RetryMaxDelay time.Duration
	// RetryBackoffMultiplier is the multiplier for exponential backoff
	RetryBackoffMultiplier float64
	// JobTimeout is the maximum time allowed for a job to run
	JobTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for jobs to complete during shutdown
	ShutdownTimeout time.Duration
	// HeartbeatInterval is the interval for sending heartbeat metrics
	HeartbeatInterval time.Duration
	// Retention is how long finished jobs are kept. Zero keeps them forever.
	Retention time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:          2,
		PollInterval:           time.Second,
		RetryBaseDelay:         5 * time.Second,
		RetryMaxDelay:          5 * time.Minute,
		RetryBackoffMultiplier: 2.0,
		JobTimeout:             5 * time.Minute,
		ShutdownTimeout:        30 * time.Second,
		HeartbeatInterval:      30 * time.Second,
		Retention:              7 * 24 * time.Hour,
	}
}

// Worker is the async job queue processor
type Worker struct {
	config          Config
	queue           Queue
	handlers        Handlers
	instrumentation *Instrumentation
	logger          zerolog.Logger

	workerID string
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopped  bool
	mu       sync.RWMutex

	// activeJobs tracks currently processing job IDs for graceful shutdown
	activeJobs map[int64]context.CancelFunc

	statsMu         sync.RWMutex
	jobsProcessed   int64
	jobsSucceeded   int64
	jobsFailed      int64
	jobsRetried     int64
	lastProcessedAt time.Time
}

// New creates a new Worker instance
func New(config Config, queue Queue, logger zerolog.Logger) *Worker {
	defaults := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if config.RetryBackoffMultiplier <= 1 {
		config.RetryBackoffMultiplier = defaults.RetryBackoffMultiplier
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}

	workerID := "worker-" + uuid.NewString()
	return &Worker{
		config:          config,
		queue:           queue,
		handlers:        make(Handlers),
		workerID:        workerID,
		stopCh:          make(chan struct{}),
		activeJobs:      make(map[int64]context.CancelFunc),
		instrumentation: &Instrumentation{},
		logger:          logger.With().Str("component", "worker").Str("worker_id", workerID).Logger(),
	}
}

// ID returns the identifier this worker claims jobs under.
func (w *Worker) ID() string { return w.workerID }

// RegisterHandler binds a job type to its handler. It must be called before Start.
func (w *Worker) RegisterHandler(jobType string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

func (w *Worker) handler(jobType string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[jobType]
	return h, ok
}

// SetInstrumentation sets the instrumentation hooks
func (w *Worker) SetInstrumentation(inst *Instrumentation) {
	if inst == nil {
		inst = &Instrumentation{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.instrumentation = inst
}

func (w *Worker) hooks() *Instrumentation {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.instrumentation
}

// Start begins the worker loop
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("max_concurrent", w.config.MaxConcurrent).Msg("starting worker")

	if w.hooks().OnHeartbeat != nil {
		w.wg.Add(1)
		go w.heartbeat(ctx)
	}

	if w.config.Retention > 0 {
		w.wg.Add(1)
		go w.janitor(ctx)
	}

	for i := 0; i < w.config.MaxConcurrent; i++ {
		w.wg.Add(1)
		go w.processor(ctx, i)
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.logger.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, w.config.ShutdownTimeout)
	defer cancel()

	w.releaseActiveJobs(shutdownCtx)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		w.logger.Warn().Msg("shutdown timeout exceeded, forcing stop")
		return fmt.Errorf("worker: shutdown timeout exceeded")
	}
}

// processor is the main loop for a single worker goroutine
func (w *Worker) processor(ctx context.Context, id int) {
	defer w.wg.Done()

	log := w.logger.With().Int("processor", id).Logger()
	log.Debug().Msg("processor started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("processor stopping (context cancelled)")
			return
		case <-w.stopCh:
			log.Debug().Msg("processor stopping (stop signal)")
			return
		default:
			if err := w.processNextJob(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					log.Error().Err(err).Msg("claim failed")
				}
				w.wait(ctx)
			}
		}
	}
}

// processNextJob attempts to claim and process the next available job
func (w *Worker) processNextJob(ctx context.Context) error {
	job, err := w.queue.ClaimNextJob(ctx, w.workerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.wait(ctx)
		return nil
	}

	w.processJob(ctx, job)
	return nil
}

func (w *Worker) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-time.After(w.config.PollInterval):
	}
}

// processJob handles the execution of a single job
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	w.trackActiveJob(job.ID, cancel)
	defer w.untrackActiveJob(job.ID)

	if hook := w.hooks().OnStart; hook != nil {
		hook(job)
	}

	w.logger.Info().
		Int64("job_id", job.ID).
		Str("job_type", job.JobType).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Msg("processing job")

	handler, ok := w.handler(job.JobType)
	if !ok {
		w.handleError(ctx, job, fmt.Errorf("no handler registered for job type: %s", job.JobType), start)
		return
	}

	if err := handler(jobCtx, job); err != nil {
		w.handleError(ctx, job, err, start)
		return
	}
	w.handleSuccess(ctx, job, start)
}

// handleError handles a job failure, retrying if appropriate
func (w *Worker) handleError(ctx context.Context, job *models.Job, err error, start time.Time) {
	duration := time.Since(start)

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsFailed++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	hooks := w.hooks()
	if hooks.OnFail != nil {
		hooks.OnFail(job, err, duration)
	}

	log := w.logger.With().Int64("job_id", job.ID).Str("job_type", job.JobType).Logger()

	if job.Attempts < job.MaxAttempts {
		delay := w.retryDelay(job.Attempts)

		w.statsMu.Lock()
		w.jobsRetried++
		w.statsMu.Unlock()

		if hooks.OnRetry != nil {
			hooks.OnRetry(job, delay)
		}

		log.Warn().Err(err).Dur("retry_in", delay).Int("attempt", job.Attempts).Msg("job failed, scheduling retry")

		if serr := w.queue.ScheduleRetry(ctx, job.ID, err.Error(), time.Now().Add(delay)); serr != nil {
			log.Error().Err(serr).Msg("failed to schedule retry")
		}
		return
	}

	log.Error().Err(err).Int("max_attempts", job.MaxAttempts).Msg("job exhausted all attempts")
	if merr := w.queue.MarkFailed(ctx, job.ID, err.Error()); merr != nil {
		log.Error().Err(merr).Msg("failed to mark job failed")
	}
}

// retryDelay is exponential in the attempt number, capped, with ±20% jitter.
func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(w.config.RetryBaseDelay) * math.Pow(w.config.RetryBackoffMultiplier, float64(attempt-1))
	delay := math.Min(base, float64(w.config.RetryMaxDelay))
	return time.Duration(delay * (0.8 + 0.4*rand.Float64()))
}

// handleSuccess handles a successful job completion
func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, start time.Time) {
	duration := time.Since(start)

	w.statsMu.Lock()
	w.jobsProcessed++
	w.jobsSucceeded++
	w.lastProcessedAt = time.Now()
	w.statsMu.Unlock()

	if hook := w.hooks().OnComplete; hook != nil {
		hook(job, duration)
	}

	w.logger.Info().Int64("job_id", job.ID).Str("job_type", job.JobType).Dur("duration", duration).Msg("job completed")

	if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
		w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job completed")
	}
}

func (w *Worker) trackActiveJob(jobID int64, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeJobs[jobID] = cancel
}

func (w *Worker) untrackActiveJob(jobID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeJobs, jobID)
}

// releaseActiveJobs cancels running jobs and puts them back to pending
func (w *Worker) releaseActiveJobs(ctx context.Context) {
	w.mu.Lock()
	jobIDs := make([]int64, 0, len(w.activeJobs))
	for id, cancel := range w.activeJobs {
		cancel()
		jobIDs = append(jobIDs, id)
	}
	w.mu.Unlock()

	for _, id := range jobIDs {
		if err := w.queue.ReleaseJob(ctx, id); err != nil {
			w.logger.Error().Err(err).Int64("job_id", id).Msg("failed to release job")
			continue
		}
		w.logger.Info().Int64("job_id", id).Msg("released job back to pending")
	}
}

// heartbeat periodically sends stats updates
func (w *Worker) heartbeat(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if hook := w.hooks().OnHeartbeat; hook != nil {
				hook(w.workerID, w.GetStats())
			}
		}
	}
}

// janitor deletes finished jobs older than the retention period.
func (w *Worker) janitor(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			removed, err := w.queue.CleanupOldJobs(ctx, w.config.Retention)
			if err != nil {
				w.logger.Error().Err(err).Msg("job cleanup failed")
				continue
			}
			if removed > 0 {
				w.logger.Info().Int64("removed", removed).Msg("cleaned up finished jobs")
			}
		}
	}
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	w.mu.RLock()
	active := len(w.activeJobs)
	w.mu.RUnlock()

	return Stats{
		JobsProcessed:   w.jobsProcessed,
		JobsSucceeded:   w.jobsSucceeded,
		JobsFailed:      w.jobsFailed,
		JobsRetried:     w.jobsRetried,
		ActiveWorkers:   active,
		LastProcessedAt: w.lastProcessedAt,
	}
}

// Enqueue creates a new job in the queue
func (w *Worker) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	if err := w.queue.Enqueue(ctx, job); err != nil {
		return err
	}

	if hook := w.hooks().OnEnqueue; hook != nil {
		hook(job)
	}

	w.logger.Info().
		Int64("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("priority", string(job.Priority)).
		Msg("enqueued job")
	return nil
}

// GetJob returns a job by id.
func (w *Worker) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	return w.queue.GetByID(ctx, jobID)
}

// CancelJob cancels a pending or failed job
func (w *Worker) CancelJob(ctx context.Context, jobID int64) error {
	if err := w.queue.CancelJob(ctx, jobID); err != nil {
		return err
	}

	if hook := w.hooks().OnCancel; hook != nil {
		if job, err := w.queue.GetByID(ctx, jobID); err == nil && job != nil {
			hook(job)
		}
	}

	w.logger.Info().Int64("job_id", jobID).Msg("cancelled job")
	return nil
}

// GetQueueStats returns statistics about the job queue
func (w *Worker) GetQueueStats(ctx context.Context) (*models.JobStats, error) {
	return w.queue.GetStats(ctx)
}
