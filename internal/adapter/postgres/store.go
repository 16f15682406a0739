package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicforge/civicforge/internal/port/database"
)

// querier abstracts pgxpool.Pool and pgx.Tx so the same store methods run
// inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	q    querier
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// WithTx runs fn inside a single transaction. Nested calls reuse the
// enclosing transaction rather than opening a new one.
func (s *Store) WithTx(ctx context.Context, fn func(tx database.Store) error) error {
	return s.withTx(ctx, func(tx *Store) error { return fn(tx) })
}

func (s *Store) withTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.pool == nil {
		// Already inside a transaction.
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
