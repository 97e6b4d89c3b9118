package verification

import "errors"

var (
	// ErrContactMismatch is returned when a requester submits a contact
	// belonging to another account. User-recoverable: share your own contact.
	ErrContactMismatch = errors.New("verification: contact does not belong to requester")

	// ErrSessionExpired is returned when a digit entry or submission arrives
	// without a live code-entry session. User-recoverable: request a new code.
	ErrSessionExpired = errors.New("verification: no active code entry session")

	// ErrRequesterNotPending indicates a moderator action referencing a
	// requester with no pending record, usually a stale action message.
	ErrRequesterNotPending = errors.New("verification: requester has no pending record")

	// ErrUnauthorized is returned for moderator-only operations invoked by
	// anyone but the configured operator. No state is mutated on rejection.
	ErrUnauthorized = errors.New("verification: caller is not the operator")

	// ErrAlreadyResolved means the join request was already handled on the
	// Telegram side. Non-fatal: the verification itself stands.
	ErrAlreadyResolved = errors.New("verification: join request already resolved")

	// ErrNoJoinRequest means there is no outstanding join request to approve.
	// Non-fatal: the requester must re-request to join.
	ErrNoJoinRequest = errors.New("verification: no outstanding join request")

	// ErrSessionNotFound is reported by the session table for operations on
	// an absent key. The engine surfaces it to callers as ErrSessionExpired.
	ErrSessionNotFound = errors.New("verification: session not found")
)
