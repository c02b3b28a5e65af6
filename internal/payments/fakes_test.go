package payments

import (
	"context"
	"sync"
	"time"

	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/store"
)

// memLedger mirrors the SQL ledger: a unique insert that claims, a lease
// based reclaim, and a processed flag that is only ever set once.
type memLedger struct {
	mu     sync.Mutex
	now    func() time.Time
	events map[string]*models.WebhookEvent

	markProcessedErr error
}

func newMemLedger(now func() time.Time) *memLedger {
	return &memLedger{now: now, events: make(map[string]*models.WebhookEvent)}
}

func (l *memLedger) RecordIfNew(_ context.Context, eventID, eventType string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[eventID]; ok {
		return false, nil
	}
	now := l.now()
	l.events[eventID] = &models.WebhookEvent{
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: now,
		ClaimedAt:  &now,
		Attempts:   1,
	}
	return true, nil
}

func (l *memLedger) GetEvent(_ context.Context, eventID string) (*models.WebhookEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	evt, ok := l.events[eventID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *evt
	return &cp, nil
}

func (l *memLedger) Reclaim(_ context.Context, eventID string, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	evt, ok := l.events[eventID]
	if !ok || evt.Processed {
		return false, nil
	}
	now := l.now()
	if evt.ClaimedAt != nil && !evt.ClaimedAt.Before(now.Add(-lease)) {
		return false, nil
	}
	evt.ClaimedAt = &now
	evt.Attempts++
	return true, nil
}

func (l *memLedger) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.markProcessedErr != nil {
		return l.markProcessedErr
	}
	evt, ok := l.events[eventID]
	if !ok {
		return store.ErrNotFound
	}
	if !evt.Processed {
		now := l.now()
		evt.Processed = true
		evt.ProcessedAt = &now
	}
	evt.ClaimedAt = nil
	evt.LastError = nil
	return nil
}

func (l *memLedger) MarkFailed(ctx context.Context, eventID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	evt, ok := l.events[eventID]
	if !ok || evt.Processed {
		return nil
	}
	evt.ClaimedAt = nil
	evt.LastError = &reason
	return nil
}

func (l *memLedger) event(id string) models.WebhookEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.events[id]
}

func (l *memLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// memStore mirrors the SQL record store, including the PAID and canceled
// guards, and counts successful mutations.
type memStore struct {
	mu            sync.Mutex
	invoices      map[string]models.Payment
	intents       map[string]models.Payment
	subscriptions map[string]models.Subscription
	writes        int

	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		invoices:      make(map[string]models.Payment),
		intents:       make(map[string]models.Payment),
		subscriptions: make(map[string]models.Subscription),
	}
}

func (s *memStore) UpsertInvoicePayment(_ context.Context, p *models.Payment) error {
	return s.upsertPayment(s.invoices, *p.StripeInvoiceID, p)
}

func (s *memStore) UpsertPaymentIntentPayment(_ context.Context, p *models.Payment) error {
	return s.upsertPayment(s.intents, *p.StripePaymentIntentID, p)
}

func (s *memStore) upsertPayment(rows map[string]models.Payment, key string, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	next := *p
	if existing, ok := rows[key]; ok && existing.Status == models.PaymentStatusPaid {
		next.Status = existing.Status
		next.PaidAt = existing.PaidAt
	}
	rows[key] = next
	*p = next
	s.writes++
	return nil
}

func (s *memStore) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	next := *sub
	if existing, ok := s.subscriptions[sub.StripeSubscriptionID]; ok {
		mergeCanceled(&next, existing)
	}
	s.subscriptions[sub.StripeSubscriptionID] = next
	s.writes++
	return nil
}

func (s *memStore) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	existing, ok := s.subscriptions[sub.StripeSubscriptionID]
	if !ok {
		return store.ErrNotFound
	}
	next := *sub
	mergeCanceled(&next, existing)
	s.subscriptions[sub.StripeSubscriptionID] = next
	s.writes++
	return nil
}

func (s *memStore) CancelSubscription(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	existing, ok := s.subscriptions[id]
	if !ok {
		return store.ErrNotFound
	}
	existing.Status = models.SubscriptionStatusCanceled
	if existing.CanceledAt == nil {
		existing.CanceledAt = &at
	}
	s.subscriptions[id] = existing
	s.writes++
	return nil
}

func mergeCanceled(next *models.Subscription, existing models.Subscription) {
	if existing.Status == models.SubscriptionStatusCanceled {
		next.Status = existing.Status
	}
	if existing.CanceledAt != nil {
		next.CanceledAt = existing.CanceledAt
	}
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invoices) + len(s.intents) + len(s.subscriptions)
}

type recordingBackfiller struct {
	mu       sync.Mutex
	requests []string
}

func (b *recordingBackfiller) RequestSubscriptionSync(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, id)
	return nil
}
