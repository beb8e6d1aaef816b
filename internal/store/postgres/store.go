// Package postgres implements the live session store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-learning/backend/internal/store"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store handles live session persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an open pool. The caller owns migrations.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close is a no-op; the pool is closed by its owner.
func (s *Store) Close() error { return nil }

// WithTx runs fn in a read-committed transaction. LockSession takes the row lock
// that serializes mutations of one session.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(pgTx pgx.Tx) error {
		return fn(&tx{q: pgTx})
	})
}

func (s *Store) CourseExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("course exists: %w", err)
	}
	return ok, nil
}

func (s *Store) CohortExists(ctx context.Context, courseID, cohortID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cohorts WHERE id = $1 AND course_id = $2)`, cohortID, courseID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("cohort exists: %w", err)
	}
	return ok, nil
}

func translate(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

type tx struct {
	q querier
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)
