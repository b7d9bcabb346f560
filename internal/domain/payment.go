package domain

// EventKind classifies a normalized provider event.
type EventKind string

const (
	KindCheckoutCompleted   EventKind = "checkout-completed"
	KindInvoiceSucceeded    EventKind = "invoice-succeeded"
	KindInvoiceFailed       EventKind = "invoice-failed"
	KindPaymentFailed       EventKind = "payment-failed"
	KindSubscriptionDeleted EventKind = "subscription-deleted"
	KindUnknown             EventKind = "unknown"
)

// SubscriptionMode classifies how a checkout session was paid for. Only
// recurring checkouts qualify for a role grant.
type SubscriptionMode string

const (
	ModeOneTime   SubscriptionMode = "one-time"
	ModeRecurring SubscriptionMode = "recurring"
	ModeUnknown   SubscriptionMode = ""
)

// PaymentEvent is the normalized, transient form of a provider webhook
// payload. Email is empty when no fallback in the resolution chain produced
// one; callers treat that as a non-fatal skip.
type PaymentEvent struct {
	ID    string
	Kind  EventKind
	Email string
	Mode  SubscriptionMode
}

// GrantPath reports whether the event should route to the grant path.
// One-time checkouts never grant.
func (e *PaymentEvent) GrantPath() bool {
	switch e.Kind {
	case KindCheckoutCompleted:
		return e.Mode == ModeRecurring
	case KindInvoiceSucceeded:
		return true
	}
	return false
}

// RevokePath reports whether the event should route to the revoke path.
func (e *PaymentEvent) RevokePath() bool {
	switch e.Kind {
	case KindInvoiceFailed, KindPaymentFailed, KindSubscriptionDeleted:
		return true
	}
	return false
}

// EntitlementReason explains an inactive entitlement decision.
type EntitlementReason string

const (
	ReasonNoCustomerRecord     EntitlementReason = "NoCustomerRecord"
	ReasonNoActivePaymentFound EntitlementReason = "NoActivePaymentFound"
	ReasonActiveSubscription   EntitlementReason = "ActiveSubscription"
	ReasonPaidCheckoutSession  EntitlementReason = "PaidCheckoutSession"
)

// EntitlementDecision is derived fresh per check, never cached.
type EntitlementDecision struct {
	Active bool
	Reason EntitlementReason
}
