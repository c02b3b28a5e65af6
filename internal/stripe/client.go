// Package stripe adapts the Stripe SDK to the reconciliation backend: webhook
// verification, mapping of provider objects onto local records, and the
// read-only API calls the reconciliation jobs make.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	gostripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

const listPageSize = 100

// Client wraps the Stripe API for reconciliation reads.
type Client struct {
	api *client.API
}

// NewClient creates a Stripe API client. backends may be nil to use the
// SDK defaults.
func NewClient(secretKey string, backends *gostripe.Backends) (*Client, error) {
	if secretKey == "" {
		return nil, errors.New("stripe: secret key is required")
	}

	var api client.API
	api.Init(secretKey, backends)

	return &Client{api: &api}, nil
}

// GetSubscription fetches the current state of a subscription.
func (c *Client) GetSubscription(ctx context.Context, id string) (*gostripe.Subscription, error) {
	params := &gostripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", id, err)
	}
	return sub, nil
}

// ListInvoicesSince calls fn for every invoice created at or after since,
// paging through the full result set.
func (c *Client) ListInvoicesSince(ctx context.Context, since time.Time, fn func(*gostripe.Invoice) error) error {
	params := &gostripe.InvoiceListParams{
		ListParams: gostripe.ListParams{
			Context: ctx,
			Limit:   gostripe.Int64(listPageSize),
		},
		CreatedRange: &gostripe.RangeQueryParams{
			GreaterThanOrEqual: since.Unix(),
		},
	}

	iter := c.api.Invoices.List(params)
	for iter.Next() {
		if err := fn(iter.Invoice()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("stripe: list invoices: %w", err)
	}
	return nil
}
