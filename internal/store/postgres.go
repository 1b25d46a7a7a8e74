package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// schemaSQL is embedded so the projector can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// Strategy selects how already-projected events are excluded.
type Strategy string

const (
	// StrategyLedger excludes events present in projection_ledger.
	StrategyLedger Strategy = "ledger"
	// StrategyAntiJoin excludes events referenced by any staging table or by
	// a projection-stage quarantine record.
	StrategyAntiJoin Strategy = "antijoin"
)

// PostgresStore is the event log, the staging writer and the quarantine table.
type PostgresStore struct {
	pool     *pgxpool.Pool
	db       *sql.DB
	strategy Strategy
	now      func() time.Time
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
// Queries go through database/sql on top of the pool.
func NewPostgresStore(ctx context.Context, dbURL string, strategy Strategy) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(stdlib.OpenDBFromPool(pool), strategy)
	s.pool = pool
	return s, nil
}

// New wraps an existing database handle.
func New(db *sql.DB, strategy Strategy) *PostgresStore {
	if strategy == "" {
		strategy = StrategyLedger
	}
	return &PostgresStore{db: db, strategy: strategy, now: time.Now}
}

// DB exposes the underlying handle for components sharing the connection
// pool (the advisory run lock).
func (p *PostgresStore) DB() *sql.DB {
	return p.db
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	_ = p.db.Close()
	if p.pool != nil {
		p.pool.Close()
	}
}
