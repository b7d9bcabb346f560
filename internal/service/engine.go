package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/entitlement"
	"github.com/rolesync/rolesync/internal/identity"
	"github.com/rolesync/rolesync/internal/platform/mailer"
	"github.com/rolesync/rolesync/internal/reconcile"
	"github.com/rolesync/rolesync/pkg/events"
	"github.com/rolesync/rolesync/pkg/logger"
)

// Engine is the single owned context for the reconciliation logic. It is
// constructed once in main and handed to the HTTP layer; nothing reaches the
// identity store, the provider or the community platform around it.
type Engine struct {
	identities   *identity.Store
	entitlements entitlement.Resolver
	reconciler   reconcile.Reconciler
	mailer       mailer.Service
	bus          events.Publisher
}

func NewEngine(
	identities *identity.Store,
	entitlements entitlement.Resolver,
	reconciler reconcile.Reconciler,
	mailer mailer.Service,
	bus events.Publisher,
) *Engine {
	return &Engine{
		identities:   identities,
		entitlements: entitlements,
		reconciler:   reconciler,
		mailer:       mailer,
		bus:          bus,
	}
}

// Verify links the email to the invoking member. Re-verifying the same pair
// is a no-op; a different member id overwrites (last writer wins).
func (e *Engine) Verify(ctx context.Context, memberID, email string) error {
	if err := e.identities.Link(ctx, email, memberID); err != nil {
		return err
	}

	e.publish(ctx, events.IdentityLinked, events.IdentityLinkedEvent{
		Email:    domain.NormalizeEmail(email),
		MemberID: memberID,
		LinkedAt: time.Now(),
	})
	return nil
}

// Unverify removes the link, only for its owner.
func (e *Engine) Unverify(ctx context.Context, memberID, email string) error {
	if err := e.identities.Unlink(ctx, email, memberID); err != nil {
		return err
	}

	e.publish(ctx, events.IdentityUnlinked, events.IdentityUnlinkedEvent{
		Email:      domain.NormalizeEmail(email),
		MemberID:   memberID,
		UnlinkedAt: time.Now(),
	})
	return nil
}

// CheckResult is what a /checkpayment invocation reports back to the member.
type CheckResult struct {
	Active  bool
	Reason  domain.EntitlementReason
	Outcome reconcile.Outcome
}

// CheckPayment re-derives entitlement for the email and grants the role when
// active. The email must already be linked to the invoking member; checking
// someone else's email is refused the same way an unowned unlink is. An
// inactive result never revokes here, only webhook events do.
func (e *Engine) CheckPayment(ctx context.Context, memberID, email string) (*CheckResult, error) {
	linkedMember, ok := e.identities.Lookup(ctx, email)
	if !ok || linkedMember != memberID {
		return nil, domain.ErrAuthorizationMismatch
	}

	decision, err := e.entitlements.Resolve(ctx, email)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Active: decision.Active, Reason: decision.Reason}

	e.publish(ctx, events.EntitlementChecked, events.EntitlementCheckedEvent{
		Email:     domain.NormalizeEmail(email),
		MemberID:  memberID,
		Active:    decision.Active,
		Reason:    string(decision.Reason),
		CheckedAt: time.Now(),
	})

	if !decision.Active {
		return result, nil
	}

	outcome, err := e.reconciler.Grant(ctx, memberID)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome

	if outcome == reconcile.Granted {
		e.publish(ctx, events.EntitlementGranted, events.EntitlementGrantedEvent{
			Email:     domain.NormalizeEmail(email),
			MemberID:  memberID,
			Source:    "command",
			GrantedAt: time.Now(),
		})
	}
	return result, nil
}

// HandleEvent dispatches a normalized webhook event. A nil error means the
// provider should be acknowledged; a non-nil error means the provider's
// redelivery is the desired recovery and the gateway should answer non-200.
//
// Skips (no email, unlinked email, non-actionable kind) and terminal
// configuration failures both acknowledge: redelivering them cannot change
// the outcome.
func (e *Engine) HandleEvent(ctx context.Context, evt *domain.PaymentEvent) error {
	if evt.Email == "" {
		return nil
	}

	memberID, ok := e.identities.Lookup(ctx, evt.Email)
	if !ok {
		logger.InfoContext(ctx, "No linked identity for payer email, skipping",
			"kind", string(evt.Kind))
		return nil
	}

	switch {
	case evt.GrantPath():
		outcome, err := e.reconciler.Grant(ctx, memberID)
		if err != nil {
			return e.dispatchErr(ctx, "grant", memberID, err)
		}
		logger.InfoContext(ctx, "Webhook grant reconciled",
			"member_id", memberID, "kind", string(evt.Kind), "outcome", string(outcome))
		if outcome == reconcile.Granted {
			e.publish(ctx, events.EntitlementGranted, events.EntitlementGrantedEvent{
				Email:     evt.Email,
				MemberID:  memberID,
				Source:    "webhook",
				EventKind: string(evt.Kind),
				GrantedAt: time.Now(),
			})
		}

	case evt.RevokePath():
		outcome, err := e.reconciler.Revoke(ctx, memberID)
		if err != nil {
			return e.dispatchErr(ctx, "revoke", memberID, err)
		}
		logger.InfoContext(ctx, "Webhook revoke reconciled",
			"member_id", memberID, "kind", string(evt.Kind), "outcome", string(outcome))
		if outcome == reconcile.Revoked {
			if mailErr := e.mailer.SendAccessRevokedEmail(evt.Email); mailErr != nil {
				logger.WarnContext(ctx, "Revoke email failed", "error", mailErr)
			}
			e.publish(ctx, events.EntitlementRevoked, events.EntitlementRevokedEvent{
				Email:     evt.Email,
				MemberID:  memberID,
				Source:    "webhook",
				EventKind: string(evt.Kind),
				RevokedAt: time.Now(),
			})
		}

	default:
		// One-time checkout completions and anything unclassified.
		logger.DebugContext(ctx, "Event kind takes no action", "kind", string(evt.Kind))
	}

	return nil
}

// dispatchErr decides whether a reconcile failure should be retried by the
// provider. Missing member or role is a configuration problem redelivery
// cannot fix, so it is logged and acknowledged.
func (e *Engine) dispatchErr(ctx context.Context, action, memberID string, err error) error {
	if errors.Is(err, domain.ErrMemberNotFound) || errors.Is(err, domain.ErrRoleNotFound) {
		logger.ErrorContext(ctx, "Terminal reconcile failure, acknowledging event",
			"action", action, "member_id", memberID, "error", err)
		return nil
	}
	return fmt.Errorf("%s for member %s: %w", action, memberID, err)
}

func (e *Engine) publish(ctx context.Context, subject string, payload interface{}) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "Event publish failed", "subject", subject, "error", err)
	}
}
