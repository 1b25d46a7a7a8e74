package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/PratikDhanave/event-projector/internal/models"
)

const insertQuarantineSQL = `
	INSERT INTO quarantine_records
		(stage, source, line_no, source_event_id, kind, raw_timestamp, payload, raw, reason, detail, fingerprint, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (fingerprint) DO NOTHING`

// Record implements quarantine.Sink on the quarantine_records table.
// Records whose fingerprint is already stored are ignored.
func (p *PostgresStore) Record(ctx context.Context, recs ...models.QuarantineRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin quarantine: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := insertQuarantine(ctx, tx, recs, p.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quarantine: %w", err)
	}
	return nil
}

// insertQuarantine returns how many records were new.
func insertQuarantine(ctx context.Context, tx *sql.Tx, recs []models.QuarantineRecord, now time.Time) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, insertQuarantineSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare quarantine: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range recs {
		recordedAt := r.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = now
		}
		res, err := stmt.ExecContext(ctx,
			r.Stage,
			nullString(r.Source),
			nullInt(int64(r.Line)),
			nullInt(r.SourceEventID),
			nullString(r.Kind),
			nullString(r.RawTimestamp),
			payloadArg(r.Payload),
			nullString(r.Raw),
			r.Reason,
			nullString(r.Detail),
			r.Fingerprint(),
			recordedAt.UTC(),
		)
		if err != nil {
			return inserted, fmt.Errorf("quarantine record (%s): %w", r.Reason, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// ListQuarantine returns the most recent quarantine records, newest first.
func (p *PostgresStore) ListQuarantine(ctx context.Context, limit int) ([]models.QuarantineRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT stage, source, line_no, source_event_id, kind, raw_timestamp, payload, raw, reason, detail, recorded_at
		FROM quarantine_records
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()

	out := []models.QuarantineRecord{}
	for rows.Next() {
		var (
			r                                models.QuarantineRecord
			source, kind, rawTS, raw, detail sql.NullString
			line, eventID                    sql.NullInt64
			payload                          []byte
		)
		if err := rows.Scan(&r.Stage, &source, &line, &eventID, &kind, &rawTS, &payload, &raw, &r.Reason, &detail, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan quarantine: %w", err)
		}
		r.Source = source.String
		r.Line = int(line.Int64)
		r.SourceEventID = eventID.Int64
		r.Kind = kind.String
		r.RawTimestamp = rawTS.String
		r.Raw = raw.String
		r.Detail = detail.String
		r.RecordedAt = r.RecordedAt.UTC()
		if len(payload) > 0 {
			r.Payload = json.RawMessage(payload)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantine: %w", err)
	}
	return out, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
