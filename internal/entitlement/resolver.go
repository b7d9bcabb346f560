package entitlement

import (
	"context"
	"fmt"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/pkg/logger"
)

// PaymentsAPI is the slice of the provider API the resolver needs.
// *payments.StripeClient satisfies it.
type PaymentsAPI interface {
	CustomersByEmail(ctx context.Context, email string) ([]string, error)
	HasActiveSubscription(ctx context.Context, customerID string) (bool, error)
	HasPaidCheckout(ctx context.Context, customerID string) (bool, error)
}

type Resolver interface {
	// Resolve derives the current entitlement for an email, fresh on every
	// call. A provider failure surfaces as domain.ErrEntitlementQueryFailed
	// so callers can distinguish "couldn't check" from a genuine inactive.
	Resolve(ctx context.Context, email string) (domain.EntitlementDecision, error)
}

type resolver struct {
	api PaymentsAPI
}

func NewResolver(api PaymentsAPI) Resolver {
	return &resolver{api: api}
}

func (r *resolver) Resolve(ctx context.Context, email string) (domain.EntitlementDecision, error) {
	email = domain.NormalizeEmail(email)

	customerIDs, err := r.api.CustomersByEmail(ctx, email)
	if err != nil {
		return domain.EntitlementDecision{}, fmt.Errorf("%w: listing customers: %v", domain.ErrEntitlementQueryFailed, err)
	}
	if len(customerIDs) == 0 {
		return domain.EntitlementDecision{Active: false, Reason: domain.ReasonNoCustomerRecord}, nil
	}

	// Evaluated in listing order, first hit wins.
	for _, customerID := range customerIDs {
		active, err := r.api.HasActiveSubscription(ctx, customerID)
		if err != nil {
			return domain.EntitlementDecision{}, fmt.Errorf("%w: checking subscriptions for %s: %v", domain.ErrEntitlementQueryFailed, customerID, err)
		}
		if active {
			logger.DebugContext(ctx, "Active subscription found", "customer_id", customerID)
			return domain.EntitlementDecision{Active: true, Reason: domain.ReasonActiveSubscription}, nil
		}

		paid, err := r.api.HasPaidCheckout(ctx, customerID)
		if err != nil {
			return domain.EntitlementDecision{}, fmt.Errorf("%w: checking checkout sessions for %s: %v", domain.ErrEntitlementQueryFailed, customerID, err)
		}
		if paid {
			logger.DebugContext(ctx, "Paid checkout session found", "customer_id", customerID)
			return domain.EntitlementDecision{Active: true, Reason: domain.ReasonPaidCheckoutSession}, nil
		}
	}

	return domain.EntitlementDecision{Active: false, Reason: domain.ReasonNoActivePaymentFound}, nil
}
