package domain

import "errors"

var (
	// ErrAuthorizationMismatch means an unlink was attempted by a member
	// who does not own the stored link. The record is left untouched.
	ErrAuthorizationMismatch = errors.New("email is not linked to this member")

	// ErrEntitlementQueryFailed wraps a transient provider-side failure.
	// Callers must report it as "couldn't check", never as inactive.
	ErrEntitlementQueryFailed = errors.New("entitlement query failed")

	// ErrMemberNotFound and ErrRoleNotFound are configuration errors:
	// terminal for the invocation, logged with operator detail, not retried.
	ErrMemberNotFound = errors.New("member not found in community")
	ErrRoleNotFound   = errors.New("configured role not found in community")

	// ErrPersistenceFailure marks a durable-store write failure during a
	// resync sweep. The in-memory result already granted to the caller
	// stands; the next sweep self-heals.
	ErrPersistenceFailure = errors.New("durable store write failed")
)
