package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Event is one immutable entry of the event log (fact_events).
// ID is assigned by the log on append and is the ordering and dedup key.
type Event struct {
	ID        int64           `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Destination names the staging table a kind projects into.
// Columns are in insert order and always end with source_event_id.
type Destination struct {
	Kind    string
	Table   string
	Columns []string
}

// Row is one candidate staging row keyed by column name.
type Row map[string]any

// Values returns the row's values in the destination's column order.
// Columns absent from the row are returned as nil (SQL NULL).
func (r Row) Values(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = r[c]
	}
	return out
}

// Outcome values recorded in the projection ledger.
const (
	OutcomeProjected   = "projected"
	OutcomeFiltered    = "filtered"
	OutcomeQuarantined = "quarantined"
)

// LedgerEntry marks an event as handled by a projection run.
type LedgerEntry struct {
	EventID     int64
	Kind        string
	Outcome     string
	RunID       string
	ProjectedAt time.Time
}
