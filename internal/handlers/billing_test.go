package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/bsos-ops/bsos/backend/internal/models"
	"github.com/bsos-ops/bsos/backend/internal/store"
)

type mockRecords struct {
	paymentFilter models.PaymentFilter
	subFilter     models.SubscriptionFilter
	payments      []models.Payment
	subs          map[string]models.Subscription
	err           error
}

func (m *mockRecords) ListPayments(_ context.Context, f models.PaymentFilter) ([]models.Payment, error) {
	m.paymentFilter = f
	return m.payments, m.err
}

func (m *mockRecords) ListSubscriptions(_ context.Context, f models.SubscriptionFilter) ([]models.Subscription, error) {
	m.subFilter = f
	out := make([]models.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, m.err
}

func (m *mockRecords) GetSubscriptionByStripeID(_ context.Context, id string) (*models.Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func TestListPaymentsAppliesFilter(t *testing.T) {
	records := &mockRecords{payments: []models.Payment{{ID: 1, Status: models.PaymentStatusPaid}}}

	req := httptest.NewRequest(http.MethodGet, "/api/billing/payments?customer=cus_1&status=PAID&from=2024-01-01T00:00:00Z&limit=5", nil)
	rr := httptest.NewRecorder()
	ListPayments(records, zerolog.Nop()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	f := records.paymentFilter
	if f.CustomerID != "cus_1" || f.Status != models.PaymentStatusPaid || f.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", f)
	}
	if f.From == nil || f.From.Year() != 2024 || f.To != nil {
		t.Fatalf("unexpected range: from=%v to=%v", f.From, f.To)
	}

	var body struct {
		Payments []models.Payment `json:"payments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Payments) != 1 {
		t.Fatalf("expected 1 payment got %d", len(body.Payments))
	}
}

func TestListPaymentsRejectsBadQuery(t *testing.T) {
	for _, q := range []string{"status=paid", "from=yesterday", "limit=ten"} {
		rr := httptest.NewRecorder()
		ListPayments(&mockRecords{}, zerolog.Nop()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/billing/payments?"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", q, rr.Code)
		}
	}
}

func TestListPaymentsEmptyIsArray(t *testing.T) {
	rr := httptest.NewRecorder()
	ListPayments(&mockRecords{}, zerolog.Nop()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/billing/payments", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Body.String(); got != "{\"payments\":[]}\n" {
		t.Fatalf("unexpected body: %q", got)
	}
}

func TestListSubscriptionsFiltersByStatus(t *testing.T) {
	records := &mockRecords{}

	rr := httptest.NewRecorder()
	ListSubscriptions(records, zerolog.Nop()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/billing/subscriptions?status=canceled", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if records.subFilter.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("unexpected filter: %+v", records.subFilter)
	}

	for _, status := range []string{"gone", "CANCELED"} {
		rr = httptest.NewRecorder()
		ListSubscriptions(records, zerolog.Nop()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/billing/subscriptions?status="+status, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", status, rr.Code)
		}
	}
}

func TestGetSubscription(t *testing.T) {
	records := &mockRecords{subs: map[string]models.Subscription{
		"sub_1": {StripeSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive},
	}}
	r := chi.NewRouter()
	r.Get("/api/billing/subscriptions/{id}", GetSubscription(records, zerolog.Nop()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/billing/subscriptions/sub_1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/billing/subscriptions/sub_404", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}

	records.err = errors.New("db down")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/billing/subscriptions/sub_1", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}
