package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	gostripe "github.com/stripe/stripe-go/v74"

	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/store"
)

type retryCall struct {
	id    int64
	msg   string
	after time.Time
}

// memQueue is an in-memory Queue that hands out pending jobs in insertion order.
type memQueue struct {
	mu        sync.Mutex
	nextID    int64
	jobs      map[int64]*models.Job
	order     []int64
	completed []int64
	failed    map[int64]string
	retries   []retryCall
	released  []int64
	cleanups  int
}

func newMemQueue() *memQueue {
	return &memQueue{jobs: make(map[int64]*models.Job), failed: make(map[int64]string)}
}

func (q *memQueue) Enqueue(_ context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	job.ID = q.nextID
	job.Status = models.JobStatusPending
	cp := *job
	q.jobs[job.ID] = &cp
	q.order = append(q.order, job.ID)
	return nil
}

func (q *memQueue) GetByID(_ context.Context, id int64) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (q *memQueue) ClaimNextJob(_ context.Context, workerID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != models.JobStatusPending {
			continue
		}
		job.Status = models.JobStatusProcessing
		job.Attempts++
		job.WorkerID = &workerID
		cp := *job
		return &cp, nil
	}
	return nil, nil
}

func (q *memQueue) setStatus(id int64, status models.JobStatus) {
	if job, ok := q.jobs[id]; ok {
		job.Status = status
	}
}

func (q *memQueue) MarkCompleted(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setStatus(id, models.JobStatusCompleted)
	q.completed = append(q.completed, id)
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, id int64, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setStatus(id, models.JobStatusFailed)
	q.failed[id] = msg
	return nil
}

func (q *memQueue) ScheduleRetry(_ context.Context, id int64, msg string, after time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setStatus(id, models.JobStatusFailed)
	q.retries = append(q.retries, retryCall{id: id, msg: msg, after: after})
	return nil
}

func (q *memQueue) CancelJob(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[id]; !ok {
		return store.ErrJobNotFound
	}
	q.setStatus(id, models.JobStatusCancelled)
	return nil
}

func (q *memQueue) ReleaseJob(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setStatus(id, models.JobStatusPending)
	q.released = append(q.released, id)
	return nil
}

func (q *memQueue) GetStats(_ context.Context) (*models.JobStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := &models.JobStats{}
	for _, job := range q.jobs {
		stats.Total++
		switch job.Status {
		case models.JobStatusPending:
			stats.Pending++
		case models.JobStatusProcessing:
			stats.Processing++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (q *memQueue) CleanupOldJobs(_ context.Context, _ time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cleanups++
	return 0, nil
}

func (q *memQueue) completedIDs() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.completed...)
}

type fakeProvider struct {
	subs     map[string]*gostripe.Subscription
	invoices []*gostripe.Invoice
	since    time.Time
	err      error
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*gostripe.Subscription, error) {
	if p.err != nil {
		return nil, p.err
	}
	sub, ok := p.subs[id]
	if !ok {
		return nil, errors.New("resource_missing")
	}
	return sub, nil
}

func (p *fakeProvider) ListInvoicesSince(_ context.Context, since time.Time, fn func(*gostripe.Invoice) error) error {
	p.since = since
	if p.err != nil {
		return p.err
	}
	for _, inv := range p.invoices {
		if err := fn(inv); err != nil {
			return err
		}
	}
	return nil
}

type fakeRecords struct {
	subs     []models.Subscription
	payments []models.Payment
	err      error
}

func (r *fakeRecords) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	if r.err != nil {
		return r.err
	}
	r.subs = append(r.subs, *sub)
	return nil
}

func (r *fakeRecords) UpsertInvoicePayment(_ context.Context, p *models.Payment) error {
	if r.err != nil {
		return r.err
	}
	r.payments = append(r.payments, *p)
	return nil
}
