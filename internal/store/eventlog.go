package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/PratikDhanave/event-projector/internal/models"
)

// Append inserts events in order inside one transaction. Any failure rolls
// back the whole batch.
func (p *PostgresStore) Append(ctx context.Context, events []models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fact_events (timestamp, event_type, payload) VALUES ($1, $2, $3)`)
	if err != nil {
		return 0, fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for i, e := range events {
		if _, err := stmt.ExecContext(ctx, e.Timestamp.UTC(), e.Kind, payloadArg(e.Payload)); err != nil {
			return 0, fmt.Errorf("append event %d of %d: %w", i+1, len(events), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return len(events), nil
}

// MaxTimestamp returns the watermark. ok is false when the log is empty.
func (p *PostgresStore) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	var ts sql.NullTime
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM fact_events`).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("max timestamp: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time.UTC(), true, nil
}

// Unprojected returns events of the given destinations' kinds that have not
// been projected yet, ascending by event_id. The result is a single-statement
// snapshot; events appended meanwhile are picked up by the next run.
// limit <= 0 means no limit.
func (p *PostgresStore) Unprojected(ctx context.Context, dests []models.Destination, limit int) ([]models.Event, error) {
	if len(dests) == 0 {
		return nil, nil
	}

	query, args := p.unprojectedQuery(dests, limit)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select unprojected: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			e       models.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unprojected: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) unprojectedQuery(dests []models.Destination, limit int) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(dests))

	b.WriteString("SELECT e.event_id, e.timestamp, e.event_type, e.payload\nFROM fact_events e\nWHERE e.event_type IN (")
	for i, d := range dests {
		if i > 0 {
			b.WriteString(", ")
		}
		args = append(args, d.Kind)
		b.WriteString("$" + strconv.Itoa(len(args)))
	}
	b.WriteString(")\n")

	switch p.strategy {
	case StrategyAntiJoin:
		for _, d := range dests {
			fmt.Fprintf(&b, "  AND NOT EXISTS (SELECT 1 FROM %s s WHERE s.source_event_id = e.event_id)\n", pgx.Identifier{d.Table}.Sanitize())
		}
		b.WriteString("  AND NOT EXISTS (SELECT 1 FROM quarantine_records q WHERE q.source_event_id = e.event_id)\n")
	default:
		b.WriteString("  AND NOT EXISTS (SELECT 1 FROM projection_ledger l WHERE l.event_id = e.event_id)\n")
	}

	b.WriteString("ORDER BY e.event_id")
	if limit > 0 {
		b.WriteString("\nLIMIT " + strconv.Itoa(limit))
	}
	return b.String(), args
}

// payloadArg passes a JSON document as text so the driver lets Postgres cast
// it to JSONB. Empty documents become NULL.
func payloadArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
