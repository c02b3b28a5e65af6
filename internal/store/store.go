package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsos-ops/bsos/backend/internal/models"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500

	columnInvoiceID       = "stripe_invoice_id"
	columnPaymentIntentID = "stripe_payment_intent_id"
)

// Store is the financial record store: payments and subscriptions mirrored
// from the payment provider. It holds no business logic.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertInvoicePayment inserts or updates the payment keyed by its invoice id.
func (s *Store) UpsertInvoicePayment(ctx context.Context, p *models.Payment) error {
	if p.StripeInvoiceID == nil || *p.StripeInvoiceID == "" {
		return errors.New("store: upsert invoice payment: missing invoice id")
	}
	return s.upsertPayment(ctx, columnInvoiceID, *p.StripeInvoiceID, p)
}

// UpsertPaymentIntentPayment inserts or updates the payment keyed by its payment intent id.
func (s *Store) UpsertPaymentIntentPayment(ctx context.Context, p *models.Payment) error {
	if p.StripePaymentIntentID == nil || *p.StripePaymentIntentID == "" {
		return errors.New("store: upsert payment intent payment: missing payment intent id")
	}
	return s.upsertPayment(ctx, columnPaymentIntentID, *p.StripePaymentIntentID, p)
}

// upsertPayment writes p keyed by column. A PAID row keeps its status and
// paid_at; every other status is overwritten by the latest write.
func (s *Store) upsertPayment(ctx context.Context, column, key string, p *models.Payment) error {
	query := fmt.Sprintf(`
INSERT INTO payments (%[1]s, stripe_customer_id, amount, currency, status, paid_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (%[1]s) DO UPDATE SET
	stripe_customer_id = EXCLUDED.stripe_customer_id,
	amount = EXCLUDED.amount,
	currency = EXCLUDED.currency,
	status = CASE WHEN payments.status = 'PAID' THEN payments.status ELSE EXCLUDED.status END,
	paid_at = CASE WHEN payments.status = 'PAID' THEN payments.paid_at ELSE EXCLUDED.paid_at END,
	updated_at = now()
RETURNING id, status, paid_at, created_at, updated_at
`, column)

	err := s.db.QueryRowContext(ctx, query,
		key,
		p.StripeCustomerID,
		p.Amount,
		strings.ToLower(p.Currency),
		p.Status,
		p.PaidAt,
	).Scan(&p.ID, &p.Status, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert payment by %s: %w", column, err)
	}

	return nil
}

// UpsertSubscription inserts or fully overwrites the subscription keyed by its
// provider id. A canceled row stays canceled.
func (s *Store) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
INSERT INTO subscriptions (
	stripe_subscription_id, stripe_customer_id, status,
	current_period_start, current_period_end, canceled_at
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (stripe_subscription_id) DO UPDATE SET
	stripe_customer_id = EXCLUDED.stripe_customer_id,
	status = CASE WHEN subscriptions.status = 'canceled' THEN subscriptions.status ELSE EXCLUDED.status END,
	current_period_start = EXCLUDED.current_period_start,
	current_period_end = EXCLUDED.current_period_end,
	canceled_at = COALESCE(subscriptions.canceled_at, EXCLUDED.canceled_at),
	updated_at = now()
RETURNING id, status, canceled_at, created_at, updated_at
`

	err := s.db.QueryRowContext(ctx, query,
		sub.StripeSubscriptionID,
		sub.StripeCustomerID,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CanceledAt,
	).Scan(&sub.ID, &sub.Status, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert subscription: %w", err)
	}

	return nil
}

// UpdateSubscription overwrites an existing subscription. It returns
// ErrNotFound when no row exists for the provider id.
func (s *Store) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
UPDATE subscriptions
SET stripe_customer_id = $2,
	status = CASE WHEN status = 'canceled' THEN status ELSE $3 END,
	current_period_start = $4,
	current_period_end = $5,
	canceled_at = COALESCE(canceled_at, $6),
	updated_at = now()
WHERE stripe_subscription_id = $1
RETURNING id, status, canceled_at, created_at, updated_at
`

	err := s.db.QueryRowContext(ctx, query,
		sub.StripeSubscriptionID,
		sub.StripeCustomerID,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CanceledAt,
	).Scan(&sub.ID, &sub.Status, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: update subscription: %w", err)
	}

	return nil
}

// CancelSubscription marks a subscription canceled. The first recorded
// canceled_at is kept, so repeating the call has no further effect.
func (s *Store) CancelSubscription(ctx context.Context, stripeSubscriptionID string, at time.Time) error {
	query := `
UPDATE subscriptions
SET status = 'canceled',
	canceled_at = COALESCE(canceled_at, $2),
	updated_at = now()
WHERE stripe_subscription_id = $1
RETURNING id
`

	var id int64
	err := s.db.QueryRowContext(ctx, query, stripeSubscriptionID, at.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: cancel subscription: %w", err)
	}

	return nil
}

// GetSubscriptionByStripeID returns the subscription for a provider id.
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	query := `
SELECT id, stripe_subscription_id, stripe_customer_id, status,
	current_period_start, current_period_end, canceled_at, created_at, updated_at
FROM subscriptions
WHERE stripe_subscription_id = $1
`

	var sub models.Subscription
	err := s.db.QueryRowContext(ctx, query, stripeSubscriptionID).Scan(
		&sub.ID,
		&sub.StripeSubscriptionID,
		&sub.StripeCustomerID,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CanceledAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}

	return &sub, nil
}

// ListSubscriptions returns subscriptions matching filter, newest first.
func (s *Store) ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("stripe_customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, pageSize(filter.Limit))

	query := `
SELECT id, stripe_subscription_id, stripe_customer_id, status,
	current_period_start, current_period_end, canceled_at, created_at, updated_at
FROM subscriptions` + whereClause(where) + fmt.Sprintf(`
ORDER BY created_at DESC
LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(
			&sub.ID,
			&sub.StripeSubscriptionID,
			&sub.StripeCustomerID,
			&sub.Status,
			&sub.CurrentPeriodStart,
			&sub.CurrentPeriodEnd,
			&sub.CanceledAt,
			&sub.CreatedAt,
			&sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate subscriptions: %w", err)
	}

	return subs, nil
}

// ListPayments returns payments matching filter, newest first. From and To
// bound created_at (inclusive, exclusive).
func (s *Store) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error) {
	var (
		where []string
		args  []any
	)
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("stripe_customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, pageSize(filter.Limit))

	query := `
SELECT id, stripe_invoice_id, stripe_payment_intent_id, stripe_customer_id,
	amount, currency, status, paid_at, created_at, updated_at
FROM payments` + whereClause(where) + fmt.Sprintf(`
ORDER BY created_at DESC
LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var (
			p         models.Payment
			invoiceID sql.NullString
			intentID  sql.NullString
		)
		if err := rows.Scan(
			&p.ID,
			&invoiceID,
			&intentID,
			&p.StripeCustomerID,
			&p.Amount,
			&p.Currency,
			&p.Status,
			&p.PaidAt,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan payment: %w", err)
		}
		p.StripeInvoiceID = nullStringPtr(invoiceID)
		p.StripePaymentIntentID = nullStringPtr(intentID)
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate payments: %w", err)
	}

	return payments, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "\nWHERE " + strings.Join(conds, " AND ")
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
