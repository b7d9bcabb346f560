package normalize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/pkg/logger"
	"github.com/stripe/stripe-go/v76"
)

// CustomerLookup resolves a customer reference id to an email address. It is
// the last link in the email-resolution chain, used when the payload itself
// carries no usable field. *payments.StripeClient satisfies it.
type CustomerLookup interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}

type Normalizer struct {
	customers CustomerLookup
}

func New(customers CustomerLookup) *Normalizer {
	return &Normalizer{customers: customers}
}

// emailSource is one step of the ordered resolution pipeline. Sources are
// tried in order; the first non-empty email wins. A failing source is
// logged and skipped, not fatal.
type emailSource func(ctx context.Context) (string, error)

func literal(v string) emailSource {
	return func(context.Context) (string, error) { return v, nil }
}

func (n *Normalizer) customerRef(c *stripe.Customer) emailSource {
	return func(ctx context.Context) (string, error) {
		if c == nil || c.ID == "" {
			return "", nil
		}
		return n.customers.CustomerEmail(ctx, c.ID)
	}
}

func resolveEmail(ctx context.Context, sources ...emailSource) string {
	for _, source := range sources {
		email, err := source(ctx)
		if err != nil {
			logger.WarnContext(ctx, "Email resolution step failed, trying next", "error", err)
			continue
		}
		if email != "" {
			return domain.NormalizeEmail(email)
		}
	}
	return ""
}

// Normalize maps a verified provider event to the engine's transient
// PaymentEvent. Unrecognized event types come back as KindUnknown; an event
// whose email cannot be resolved by any source comes back with an empty
// email. Both are skips for the caller, not errors.
func (n *Normalizer) Normalize(ctx context.Context, evt *stripe.Event) (*domain.PaymentEvent, error) {
	out := &domain.PaymentEvent{ID: evt.ID, Kind: domain.KindUnknown}

	if evt.Data == nil {
		return out, nil
	}

	switch evt.Type {
	case "checkout.session.completed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decoding checkout session: %w", err)
		}
		out.Kind = domain.KindCheckoutCompleted
		out.Mode = domain.ModeOneTime
		if s.Mode == stripe.CheckoutSessionModeSubscription {
			out.Mode = domain.ModeRecurring
		}
		nested := ""
		if s.CustomerDetails != nil {
			nested = s.CustomerDetails.Email
		}
		out.Email = resolveEmail(ctx,
			literal(s.CustomerEmail),
			literal(nested),
			n.customerRef(s.Customer),
		)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decoding invoice: %w", err)
		}
		out.Kind = domain.KindInvoiceSucceeded
		if evt.Type == "invoice.payment_failed" {
			out.Kind = domain.KindInvoiceFailed
		}
		out.Email = resolveEmail(ctx,
			literal(inv.CustomerEmail),
			n.customerRef(inv.Customer),
		)

	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decoding payment intent: %w", err)
		}
		out.Kind = domain.KindPaymentFailed
		out.Email = resolveEmail(ctx,
			literal(pi.ReceiptEmail),
			n.customerRef(pi.Customer),
		)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decoding subscription: %w", err)
		}
		out.Kind = domain.KindSubscriptionDeleted
		out.Email = resolveEmail(ctx, n.customerRef(sub.Customer))
	}

	return out, nil
}
