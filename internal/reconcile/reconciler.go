package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rolesync/rolesync/internal/domain"
	"github.com/rolesync/rolesync/internal/platform/community"
	"github.com/rolesync/rolesync/pkg/logger"
)

// Outcome describes what a grant or revoke actually did. The Already*
// outcomes are successes: webhook events are redelivered and a repeat must
// not produce duplicate side effects or spurious errors.
type Outcome string

const (
	Granted        Outcome = "granted"
	AlreadyGranted Outcome = "already-granted"
	Revoked        Outcome = "revoked"
	AlreadyAbsent  Outcome = "already-absent"
)

type Reconciler interface {
	Grant(ctx context.Context, memberID string) (Outcome, error)
	Revoke(ctx context.Context, memberID string) (Outcome, error)
}

type roleReconciler struct {
	community community.Client
	roleID    string
}

func NewRoleReconciler(client community.Client, roleID string) Reconciler {
	return &roleReconciler{community: client, roleID: roleID}
}

// Grant adds the configured role to the member, diff-based: holding the role
// already is a successful no-op. A missing member or role is terminal for
// this invocation and surfaces as the matching domain error.
func (r *roleReconciler) Grant(ctx context.Context, memberID string) (Outcome, error) {
	member, err := r.resolveMember(ctx, memberID)
	if err != nil {
		return "", err
	}

	if member.HasRole(r.roleID) {
		return AlreadyGranted, nil
	}

	if err := r.community.AddMemberRole(ctx, memberID, r.roleID); err != nil {
		return "", fmt.Errorf("adding role %s to member %s: %w", r.roleID, memberID, err)
	}

	logger.InfoContext(ctx, "Role granted", "member_id", memberID, "role_id", r.roleID)
	return Granted, nil
}

// Revoke removes the configured role, diff-based like Grant. On an actual
// removal it attempts a direct notification to the member; a notification
// failure is logged and never fails the revoke itself.
func (r *roleReconciler) Revoke(ctx context.Context, memberID string) (Outcome, error) {
	member, err := r.resolveMember(ctx, memberID)
	if err != nil {
		return "", err
	}

	if !member.HasRole(r.roleID) {
		return AlreadyAbsent, nil
	}

	if err := r.community.RemoveMemberRole(ctx, memberID, r.roleID); err != nil {
		return "", fmt.Errorf("removing role %s from member %s: %w", r.roleID, memberID, err)
	}

	logger.InfoContext(ctx, "Role revoked", "member_id", memberID, "role_id", r.roleID)

	if err := r.community.DirectMessage(ctx, memberID,
		"Your premium access has been removed because we could not confirm an active payment. "+
			"Use /checkpayment after updating your payment method to restore it."); err != nil {
		logger.WarnContext(ctx, "Revoke notification failed", "member_id", memberID, "error", err)
	}

	return Revoked, nil
}

func (r *roleReconciler) resolveMember(ctx context.Context, memberID string) (*community.Member, error) {
	member, err := r.community.Member(ctx, memberID)
	if err != nil {
		if errors.Is(err, community.ErrMemberNotFound) {
			logger.ErrorContext(ctx, "Member missing from community, cannot reconcile",
				"member_id", memberID)
			return nil, fmt.Errorf("%w: %s", domain.ErrMemberNotFound, memberID)
		}
		return nil, fmt.Errorf("fetching member %s: %w", memberID, err)
	}

	exists, err := r.community.RoleExists(ctx, r.roleID)
	if err != nil {
		return nil, fmt.Errorf("fetching role %s: %w", r.roleID, err)
	}
	if !exists {
		logger.ErrorContext(ctx, "Configured role missing from community, check COMMUNITY_ROLE_ID",
			"role_id", r.roleID)
		return nil, fmt.Errorf("%w: %s", domain.ErrRoleNotFound, r.roleID)
	}

	return member, nil
}
