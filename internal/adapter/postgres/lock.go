package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock implements submissionlock.Lock using PostgreSQL session
// advisory locks. The lock is held on a dedicated pooled connection until
// released, so it spans arbitrary work including other transactions.
type AdvisoryLock struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLock creates an advisory lock manager on the given pool.
func NewAdvisoryLock(pool *pgxpool.Pool) *AdvisoryLock {
	return &AdvisoryLock{pool: pool}
}

// Acquire blocks until the lock for key is held and returns a release func.
// Keys are hashed to the 64-bit advisory lock space.
func (l *AdvisoryLock) Acquire(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	id := lockID(key)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, id); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %q: %w", key, err)
	}

	release := func() {
		// Unlock on a background context so release still works when the
		// caller's context is already cancelled.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, id)
		conn.Release()
	}
	return release, nil
}

func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
