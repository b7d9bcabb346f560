package payments

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Every provider call is bounded; a timeout surfaces to the resolver as a
// query failure, never as "inactive".
const callTimeout = 10 * time.Second

// StripeClient wraps the provider API surface the engine needs: customer
// lookup by email and id, active-subscription checks and a bounded sweep of
// recent checkout sessions.
type StripeClient struct {
	sc       *client.API
	lookback int64
}

func NewStripeClient(secretKey string, checkoutLookback int) *StripeClient {
	sc := &client.API{}
	sc.Init(secretKey, nil)

	if checkoutLookback <= 0 {
		checkoutLookback = 10
	}

	return &StripeClient{sc: sc, lookback: int64(checkoutLookback)}
}

// CustomersByEmail returns the ids of every customer record matching the
// email, in provider listing order. Multiple records per email are normal.
func (c *StripeClient) CustomersByEmail(ctx context.Context, email string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx

	var ids []string
	iter := c.sc.Customers.List(params)
	for iter.Next() {
		ids = append(ids, iter.Customer().ID)
	}
	return ids, iter.Err()
}

func (c *StripeClient) HasActiveSubscription(ctx context.Context, customerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := c.sc.Subscriptions.List(params)
	for iter.Next() {
		return true, nil
	}
	return false, iter.Err()
}

// HasPaidCheckout looks through the most recent checkout sessions for the
// customer and reports whether any one-time session was paid.
func (c *StripeClient) HasPaidCheckout(ctx context.Context, customerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(c.lookback)

	iter := c.sc.CheckoutSessions.List(params)
	for iter.Next() {
		s := iter.CheckoutSession()
		if s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid && s.Mode == stripe.CheckoutSessionModePayment {
			return true, nil
		}
	}
	return false, iter.Err()
}

// CustomerEmail fetches the email on a customer record, for webhook payloads
// that carry only a customer reference.
func (c *StripeClient) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	cust, err := c.sc.Customers.Get(customerID, params)
	if err != nil {
		return "", err
	}
	if cust == nil || cust.Deleted {
		return "", nil
	}
	return cust.Email, nil
}
