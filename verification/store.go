package verification

import (
	"context"
	"time"
)

// Status tracks a requester's position in the verification flow.
// It only ever advances; a wrong code submission leaves it at StatusCodeSent.
type Status string

const (
	StatusAwaitingContact Status = "awaiting_contact"
	StatusContactShared   Status = "contact_shared"
	StatusCodeSent        Status = "code_sent"
	StatusVerified        Status = "verified"
)

var statusRank = map[Status]int{
	StatusAwaitingContact: 1,
	StatusContactShared:   2,
	StatusCodeSent:        3,
	StatusVerified:        4,
}

// Rank returns the position of s in the flow order, 0 for unknown values.
func (s Status) Rank() int {
	return statusRank[s]
}

// MaxStatus returns the further-along of the two statuses. It keeps
// upserts monotonic when a requester re-enters an earlier stage.
func MaxStatus(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// PendingVerification is the durable audit row for a requester in flight.
// Rows are replaced on re-entry, never deleted.
type PendingVerification struct {
	UserID      int64     `db:"user_id"`
	Username    string    `db:"username"`
	FirstName   string    `db:"first_name"`
	PhoneNumber string    `db:"phone_number"`
	IssuedCode  string    `db:"issued_code"`
	SubmittedAt time.Time `db:"submitted_at"`
	Status      Status    `db:"status"`
}

// VerifiedUser records a completed verification. Row existence is the
// sole authority for the already-verified fast path.
type VerifiedUser struct {
	UserID      int64     `db:"user_id"`
	Username    string    `db:"username"`
	FirstName   string    `db:"first_name"`
	PhoneNumber string    `db:"phone_number"`
	VerifiedAt  time.Time `db:"verified_at"`
}

// RecordStore is the durable record contract, keyed by requester id.
// Lookups return (nil, nil) when no row exists.
type RecordStore interface {
	GetVerified(ctx context.Context, userID int64) (*VerifiedUser, error)
	GetPending(ctx context.Context, userID int64) (*PendingVerification, error)

	// UpsertPending replaces the whole row. Callers must read-merge first
	// so fields set at an earlier stage are not clobbered.
	UpsertPending(ctx context.Context, rec *PendingVerification) error

	// FinalizeVerified writes the verified row and advances the matching
	// pending row to StatusVerified in a single transaction.
	FinalizeVerified(ctx context.Context, rec *VerifiedUser) error

	// ListPending returns rows whose status is in statuses, most recent
	// submission first.
	ListPending(ctx context.Context, statuses ...Status) ([]PendingVerification, error)

	CountVerified(ctx context.Context) (int, error)
	// CountPendingExcluding counts pending rows, skipping the given status.
	// An empty status excludes nothing and counts every row.
	CountPendingExcluding(ctx context.Context, status Status) (int, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
	// RecentVerified returns the n most recently verified users.
	RecentVerified(ctx context.Context, n int) ([]VerifiedUser, error)
}
