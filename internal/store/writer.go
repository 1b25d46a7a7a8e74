package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/PratikDhanave/event-projector/internal/models"
)

const insertLedgerSQL = `INSERT INTO projection_ledger (event_id, kind, outcome, run_id, projected_at) VALUES ($1, $2, $3, $4, $5)`

// CommitAll writes every kind's staging rows, the ledger entries and the
// projection-stage quarantine records of b in one transaction and returns the
// inserted row count per kind. Any failure rolls back all of it and is
// returned to the caller.
func (p *PostgresStore) CommitAll(ctx context.Context, b *models.Batch) (map[string]int, error) {
	counts := map[string]int{}
	if b == nil || b.Empty() {
		return counts, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, kind := range b.Kinds() {
		dest, ok := b.Destinations[kind]
		if !ok {
			return nil, fmt.Errorf("no destination for kind %q", kind)
		}
		n, err := insertRows(ctx, tx, dest, b.Rows[kind])
		if err != nil {
			return nil, fmt.Errorf("insert %s rows into %s: %w", kind, dest.Table, err)
		}
		counts[kind] = n
	}

	if err := insertLedger(ctx, tx, b.Ledger); err != nil {
		return nil, err
	}

	if _, err := insertQuarantine(ctx, tx, b.Rejects, p.now()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit projection: %w", err)
	}
	return counts, nil
}

// insertSQL builds the parameterized insert for a destination.
func insertSQL(dest models.Destination) string {
	cols := make([]string, len(dest.Columns))
	params := make([]string, len(dest.Columns))
	for i, c := range dest.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{dest.Table}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(params, ", "))
}

func insertRows(ctx context.Context, tx *sql.Tx, dest models.Destination, rows []models.Row) (int, error) {
	stmt, err := tx.PrepareContext(ctx, insertSQL(dest))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Values(dest.Columns)...); err != nil {
			return 0, fmt.Errorf("source_event_id %v: %w", r["source_event_id"], err)
		}
	}
	return len(rows), nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, insertLedgerSQL)
	if err != nil {
		return fmt.Errorf("prepare ledger: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.EventID, e.Kind, e.Outcome, e.RunID, e.ProjectedAt.UTC()); err != nil {
			return fmt.Errorf("ledger entry for event %d: %w", e.EventID, err)
		}
	}
	return nil
}
