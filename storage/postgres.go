package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"gatebot/verification"
)

// PostgresStore implements verification.RecordStore on Postgres via sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetVerified(ctx context.Context, userID int64) (*verification.VerifiedUser, error) {
	var u verification.VerifiedUser
	err := s.db.GetContext(ctx, &u,
		`SELECT user_id, username, first_name, phone_number, verified_at
		   FROM verified_users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verified: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetPending(ctx context.Context, userID int64) (*verification.PendingVerification, error) {
	var rec verification.PendingVerification
	err := s.db.GetContext(ctx, &rec,
		`SELECT user_id, username, first_name, phone_number, issued_code, submitted_at, status
		   FROM pending_verifications WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) UpsertPending(ctx context.Context, rec *verification.PendingVerification) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO pending_verifications
		        (user_id, username, first_name, phone_number, issued_code, submitted_at, status)
		 VALUES (:user_id, :username, :first_name, :phone_number, :issued_code, :submitted_at, :status)
		 ON CONFLICT (user_id) DO UPDATE SET
		        username     = EXCLUDED.username,
		        first_name   = EXCLUDED.first_name,
		        phone_number = EXCLUDED.phone_number,
		        issued_code  = EXCLUDED.issued_code,
		        submitted_at = EXCLUDED.submitted_at,
		        status       = EXCLUDED.status`, rec)
	if err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}
	return nil
}

// FinalizeVerified writes the verified row and advances the pending row to
// verified in one transaction, so neither lands without the other.
func (s *PostgresStore) FinalizeVerified(ctx context.Context, rec *verification.VerifiedUser) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO verified_users (user_id, username, first_name, phone_number, verified_at)
		 VALUES (:user_id, :username, :first_name, :phone_number, :verified_at)
		 ON CONFLICT (user_id) DO UPDATE SET
		        username     = EXCLUDED.username,
		        first_name   = EXCLUDED.first_name,
		        phone_number = EXCLUDED.phone_number,
		        verified_at  = EXCLUDED.verified_at`, rec); err != nil {
		return fmt.Errorf("insert verified: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pending_verifications SET status = $1 WHERE user_id = $2`,
		verification.StatusVerified, rec.UserID); err != nil {
		return fmt.Errorf("advance pending status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, statuses ...verification.Status) ([]verification.PendingVerification, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT user_id, username, first_name, phone_number, issued_code, submitted_at, status
		   FROM pending_verifications WHERE status IN (?)
		  ORDER BY submitted_at DESC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}
	var recs []verification.PendingVerification
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return recs, nil
}

func (s *PostgresStore) CountVerified(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM verified_users`); err != nil {
		return 0, fmt.Errorf("count verified: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountPendingExcluding(ctx context.Context, status verification.Status) (int, error) {
	var n int
	if status == "" {
		if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_verifications`); err != nil {
			return 0, fmt.Errorf("count pending: %w", err)
		}
		return n, nil
	}
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM pending_verifications WHERE status <> $1`, status); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, status verification.Status) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM pending_verifications WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) RecentVerified(ctx context.Context, n int) ([]verification.VerifiedUser, error) {
	var users []verification.VerifiedUser
	if err := s.db.SelectContext(ctx, &users,
		`SELECT user_id, username, first_name, phone_number, verified_at
		   FROM verified_users ORDER BY verified_at DESC LIMIT $1`, n); err != nil {
		return nil, fmt.Errorf("recent verified: %w", err)
	}
	return users, nil
}
