// Package quarantine holds the terminal side channel for records that fail
// validation. Nothing in the engine reads quarantined records back.
package quarantine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/models"
)

// Sink persists quarantine records. Implementations must ignore a record whose
// fingerprint they already hold.
type Sink interface {
	Record(ctx context.Context, recs ...models.QuarantineRecord) error
}

// Recorder wraps a Sink so that a failing sink never stops the pipeline.
type Recorder struct {
	sink Sink
	log  *zap.Logger
}

// NewRecorder creates a recorder over sink.
func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	return &Recorder{sink: sink, log: log}
}

// Record forwards recs to the sink and logs, rather than returns, a sink failure.
// It reports whether the records were persisted.
func (r *Recorder) Record(ctx context.Context, recs ...models.QuarantineRecord) bool {
	if len(recs) == 0 {
		return true
	}
	for _, rec := range recs {
		r.log.Warn("Quarantined record",
			zap.String("stage", rec.Stage),
			zap.String("source", rec.Source),
			zap.Int("line", rec.Line),
			zap.Int64("source_event_id", rec.SourceEventID),
			zap.String("event_type", rec.Kind),
			zap.String("reason", rec.Reason),
			zap.String("detail", rec.Detail))
	}
	if err := r.sink.Record(ctx, recs...); err != nil {
		r.log.Error("Failed to persist quarantine records",
			zap.Int("count", len(recs)),
			zap.Error(err))
		return false
	}
	return true
}

// MemorySink keeps records in memory. Used by tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	records []models.QuarantineRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: map[string]struct{}{}}
}

// Record implements Sink.
func (m *MemorySink) Record(_ context.Context, recs ...models.QuarantineRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		fp := rec.Fingerprint()
		if _, ok := m.seen[fp]; ok {
			continue
		}
		m.seen[fp] = struct{}{}
		m.records = append(m.records, rec)
	}
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemorySink) Records() []models.QuarantineRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.QuarantineRecord(nil), m.records...)
}
