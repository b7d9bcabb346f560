package entitlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/entitlement"
)

// ---------- Mocks ----------

type mockPaymentsAPI struct {
	customers    []string
	customersErr error

	activeSubs map[string]bool
	subsErr    error

	paidCheckouts map[string]bool
	checkoutErr   error

	subChecks      []string
	checkoutChecks []string
}

func (m *mockPaymentsAPI) CustomersByEmail(context.Context, string) ([]string, error) {
	return m.customers, m.customersErr
}

func (m *mockPaymentsAPI) HasActiveSubscription(_ context.Context, customerID string) (bool, error) {
	m.subChecks = append(m.subChecks, customerID)
	if m.subsErr != nil {
		return false, m.subsErr
	}
	return m.activeSubs[customerID], nil
}

func (m *mockPaymentsAPI) HasPaidCheckout(_ context.Context, customerID string) (bool, error) {
	m.checkoutChecks = append(m.checkoutChecks, customerID)
	if m.checkoutErr != nil {
		return false, m.checkoutErr
	}
	return m.paidCheckouts[customerID], nil
}

// ---------- Tests ----------

func TestResolveNoCustomerRecord(t *testing.T) {
	api := &mockPaymentsAPI{}
	resolver := entitlement.NewResolver(api)

	decision, err := resolver.Resolve(context.Background(), "ghost@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Active || decision.Reason != domain.ReasonNoCustomerRecord {
		t.Fatalf("decision = %+v; want inactive/NoCustomerRecord", decision)
	}
}

func TestResolveActiveSubscriptionShortCircuits(t *testing.T) {
	api := &mockPaymentsAPI{
		customers:  []string{"cus_1", "cus_2", "cus_3"},
		activeSubs: map[string]bool{"cus_2": true},
	}
	resolver := entitlement.NewResolver(api)

	decision, err := resolver.Resolve(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Active || decision.Reason != domain.ReasonActiveSubscription {
		t.Fatalf("decision = %+v; want active/ActiveSubscription", decision)
	}
	if len(api.subChecks) != 2 {
		t.Fatalf("expected short-circuit after cus_2, checked %v", api.subChecks)
	}
}

func TestResolvePaidCheckoutFallback(t *testing.T) {
	api := &mockPaymentsAPI{
		customers:     []string{"cus_1"},
		paidCheckouts: map[string]bool{"cus_1": true},
	}
	resolver := entitlement.NewResolver(api)

	decision, err := resolver.Resolve(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Active || decision.Reason != domain.ReasonPaidCheckoutSession {
		t.Fatalf("decision = %+v; want active/PaidCheckoutSession", decision)
	}
}

func TestResolveExhaustedIsNoActivePaymentFound(t *testing.T) {
	api := &mockPaymentsAPI{customers: []string{"cus_1", "cus_2"}}
	resolver := entitlement.NewResolver(api)

	decision, err := resolver.Resolve(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if decision.Active || decision.Reason != domain.ReasonNoActivePaymentFound {
		t.Fatalf("decision = %+v; want inactive/NoActivePaymentFound", decision)
	}
	if len(api.checkoutChecks) != 2 {
		t.Fatalf("expected every customer checked, got %v", api.checkoutChecks)
	}
}

func TestResolveProviderFailureIsQueryFailedNotInactive(t *testing.T) {
	cases := []struct {
		name string
		api  *mockPaymentsAPI
	}{
		{"listing customers", &mockPaymentsAPI{customersErr: errors.New("timeout")}},
		{"listing subscriptions", &mockPaymentsAPI{customers: []string{"cus_1"}, subsErr: errors.New("timeout")}},
		{"listing checkouts", &mockPaymentsAPI{customers: []string{"cus_1"}, checkoutErr: errors.New("timeout")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolver := entitlement.NewResolver(tc.api)
			_, err := resolver.Resolve(context.Background(), "a@x.com")
			if !errors.Is(err, domain.ErrEntitlementQueryFailed) {
				t.Fatalf("err = %v; want ErrEntitlementQueryFailed", err)
			}
		})
	}
}
