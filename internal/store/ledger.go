package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bsos-ops/bsos/backend/internal/models"
)

// Ledger is the idempotency ledger for provider webhook events. A row is
// inserted once per event id. It is claimed by the delivery that inserted
// it and is only marked processed after every record-store write succeeded.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a Ledger using the provided sql.DB connection.
func NewLedger(db *sql.DB) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Ledger{db: db}, nil
}

// RecordIfNew inserts an event row claimed by the caller. It returns false
// without error when the event id is already present.
func (l *Ledger) RecordIfNew(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
INSERT INTO webhook_events (event_id, event_type, processed, received_at, claimed_at)
VALUES ($1, $2, false, now(), now())
`

	if _, err := l.db.ExecContext(ctx, query, eventID, eventType); err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: record webhook event: %w", err)
	}

	return true, nil
}

// GetEvent returns the ledger row for eventID.
func (l *Ledger) GetEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	query := `
SELECT event_id, event_type, processed, received_at, claimed_at,
	processed_at, attempts, last_error
FROM webhook_events
WHERE event_id = $1
`

	var evt models.WebhookEvent
	err := l.db.QueryRowContext(ctx, query, eventID).Scan(
		&evt.EventID,
		&evt.EventType,
		&evt.Processed,
		&evt.ReceivedAt,
		&evt.ClaimedAt,
		&evt.ProcessedAt,
		&evt.Attempts,
		&evt.LastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get webhook event: %w", err)
	}

	return &evt, nil
}

// Reclaim takes over an unprocessed event whose claim was released or whose
// lease has expired. It returns false when the event is processed or still
// held by another delivery.
func (l *Ledger) Reclaim(ctx context.Context, eventID string, lease time.Duration) (bool, error) {
	query := `
UPDATE webhook_events
SET claimed_at = now(),
	attempts = attempts + 1
WHERE event_id = $1
	AND processed = false
	AND (claimed_at IS NULL OR claimed_at < now() - INTERVAL '1 second' * $2)
`

	result, err := l.db.ExecContext(ctx, query, eventID, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("store: reclaim webhook event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: reclaim webhook event: %w", err)
	}
	return affected == 1, nil
}

// MarkProcessed records that every effect of the event is durable.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID string) error {
	query := `
UPDATE webhook_events
SET processed = true,
	processed_at = COALESCE(processed_at, now()),
	claimed_at = NULL,
	last_error = NULL
WHERE event_id = $1
`

	result, err := l.db.ExecContext(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("store: mark webhook event processed: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFailed releases the claim on an unprocessed event so the next delivery
// can retry it, keeping the failure message for operators.
func (l *Ledger) MarkFailed(ctx context.Context, eventID, reason string) error {
	query := `
UPDATE webhook_events
SET claimed_at = NULL,
	last_error = $2
WHERE event_id = $1 AND processed = false
`

	if _, err := l.db.ExecContext(ctx, query, eventID, reason); err != nil {
		return fmt.Errorf("store: mark webhook event failed: %w", err)
	}

	return nil
}
