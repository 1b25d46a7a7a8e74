package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// AdvisoryLocker is a Postgres session-level advisory lock. The session is
// pinned to one pooled connection for as long as the lock is held.
type AdvisoryLocker struct {
	db *sql.DB
	id int64
}

// NewAdvisoryLocker derives the advisory lock ID from key.
func NewAdvisoryLocker(db *sql.DB, key string) *AdvisoryLocker {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return &AdvisoryLocker{db: db, id: int64(h.Sum64())}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context) (Release, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.id).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.id); err != nil {
			return fmt.Errorf("advisory unlock: %w", err)
		}
		return nil
	}, nil
}
