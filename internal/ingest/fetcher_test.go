package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/models"
	"github.com/PratikDhanave/event-projector/internal/quarantine"
	"github.com/PratikDhanave/event-projector/internal/source"
)

// memLog is an in-memory EventLog.
type memLog struct {
	mu        sync.Mutex
	events    []models.Event
	appendErr error
	appends   int
}

func (m *memLog) MaxTimestamp(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max time.Time
	for _, e := range m.events {
		if e.Timestamp.After(max) {
			max = e.Timestamp
		}
	}
	return max, len(m.events) > 0, nil
}

func (m *memLog) Append(_ context.Context, events []models.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	for _, e := range events {
		e.ID = int64(len(m.events) + 1)
		m.events = append(m.events, e)
	}
	return len(events), nil
}

func line(ts, kind, payload string) string {
	return `{"timestamp": "` + ts + `", "event_type": "` + kind + `", "payload": ` + payload + `}`
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

type harness struct {
	dir     string
	log     *memLog
	sink    *quarantine.MemorySink
	fetcher *Fetcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dir:  t.TempDir(),
		log:  &memLog{},
		sink: quarantine.NewMemorySink(),
	}
	open := func(context.Context) (source.Source, error) { return source.NewLocal(h.dir), nil }
	h.fetcher = NewFetcher(open, h.log, quarantine.NewRecorder(h.sink, zap.NewNop()), Config{Ext: ".jsonl"}, zap.NewNop())
	return h
}

func (h *harness) write(t *testing.T, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func (h *harness) seed(events ...models.Event) {
	for i := range events {
		events[i].ID = int64(len(h.log.events) + 1)
		h.log.events = append(h.log.events, events[i])
	}
}

func TestCatchUp_NoFiles(t *testing.T) {
	h := newHarness(t)
	h.write(t, "readme.txt", "hello")

	res, err := h.fetcher.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoNewFiles, res.Outcome)
	assert.Zero(t, h.log.appends)
}

func TestCatchUp_EmptyLogFetchesEverything(t *testing.T) {
	h := newHarness(t)
	h.write(t, "2024-01-01.jsonl", line("2024-01-01T00:00:00Z", "Order", `{"order_id": "a"}`))
	h.write(t, "2024-01-02.jsonl", line("2024-01-02T00:00:00Z", "Invoice", `{}`), "", line("2024-01-02T01:00:00Z", "Payment", `{}`))

	res, err := h.fetcher.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, res.Outcome)
	assert.Equal(t, 3, res.Appended)
	assert.False(t, res.HasWatermark)
	assert.Equal(t, []string{"2024-01-01.jsonl", "2024-01-02.jsonl"}, res.Files)

	require.Len(t, h.log.events, 3)
	assert.Equal(t, "Order", h.log.events[0].Kind)
	assert.Equal(t, "Payment", h.log.events[2].Kind)
	assert.JSONEq(t, `{"order_id": "a"}`, string(h.log.events[0].Payload))
}

// A re-fetched same-day file holding an already-seen event plus one new event
// only appends the new event.
func TestCatchUp_RefetchedSameDayFile(t *testing.T) {
	h := newHarness(t)
	h.seed(
		models.Event{Timestamp: ts("2024-01-01T00:00:00Z"), Kind: "Order"},
		models.Event{Timestamp: ts("2024-01-02T00:00:00Z"), Kind: "Order"},
		models.Event{Timestamp: ts("2024-01-03T00:00:00Z"), Kind: "Order"},
	)
	h.write(t, "2024-01-02.jsonl", line("2024-01-02T00:00:00Z", "Order", `{}`))
	h.write(t, "2024-01-03.jsonl",
		line("2024-01-03T00:00:00Z", "Order", `{}`),
		line("2024-01-03T05:00:00Z", "Invoice", `{"invoice_id": "new"}`),
	)

	res, err := h.fetcher.CatchUp(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-03.jsonl"}, res.Files, "older files are not fetched")
	assert.Equal(t, 1, res.Appended)
	assert.Equal(t, 1, res.Stale)
	require.Len(t, h.log.events, 4)
	assert.True(t, h.log.events[3].Timestamp.Equal(ts("2024-01-03T05:00:00Z")))
	assert.Equal(t, "Invoice", h.log.events[3].Kind)
}

func TestCatchUp_RerunIsNoop(t *testing.T) {
	h := newHarness(t)
	h.write(t, "2024-01-01.jsonl",
		line("2024-01-01T00:00:00Z", "Order", `{}`),
		line("2024-01-01T02:00:00Z", "Order", `{}`),
	)
	ctx := context.Background()

	first, err := h.fetcher.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Appended)

	second, err := h.fetcher.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoNewEvents, second.Outcome)
	assert.Equal(t, 2, second.Stale)
	assert.Len(t, h.log.events, 2)
	assert.Equal(t, 1, h.log.appends)
}

// microLog stores timestamps at microsecond precision, as TIMESTAMPTZ does.
type microLog struct {
	*memLog
}

func (m microLog) Append(ctx context.Context, events []models.Event) (int, error) {
	rounded := make([]models.Event, len(events))
	for i, e := range events {
		e.Timestamp = e.Timestamp.Round(time.Microsecond)
		rounded[i] = e
	}
	return m.memLog.Append(ctx, rounded)
}

func TestCatchUp_SubMicrosecondTimestampsRerunIsNoop(t *testing.T) {
	h := newHarness(t)
	open := func(context.Context) (source.Source, error) { return source.NewLocal(h.dir), nil }
	h.fetcher = NewFetcher(open, microLog{h.log}, quarantine.NewRecorder(h.sink, zap.NewNop()), Config{Ext: ".jsonl"}, zap.NewNop())
	h.write(t, "2024-01-01.jsonl",
		line("2024-01-01T02:00:00.0000004Z", "Order", `{}`),
		line("2024-01-01T03:00:00.0000007Z", "Order", `{}`),
	)
	ctx := context.Background()

	first, err := h.fetcher.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Appended)

	second, err := h.fetcher.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoNewEvents, second.Outcome)
	assert.Zero(t, second.Appended)
	assert.Len(t, h.log.events, 2)
}

func TestCatchUp_InvalidDateQuarantinedVerbatim(t *testing.T) {
	h := newHarness(t)
	bad := `{"timestamp": "2026-01-01T25:00:00Z", "event_type": "X", "payload": {}}`
	h.write(t, "2026-01-01.jsonl", bad, line("2026-01-01T10:00:00Z", "X", `{}`))
	ctx := context.Background()

	res, err := h.fetcher.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Appended)
	assert.Equal(t, 1, res.Quarantined)

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Invalid date", recs[0].Reason)
	assert.Equal(t, "2026-01-01T25:00:00Z", recs[0].RawTimestamp)
	assert.Equal(t, "X", recs[0].Kind)
	assert.Equal(t, "2026-01-01.jsonl", recs[0].Source)
	assert.Equal(t, 1, recs[0].Line)
	assert.Equal(t, bad, recs[0].Raw)
	assert.JSONEq(t, `{}`, string(recs[0].Payload))

	// Re-fetching the same file does not quarantine the line twice.
	_, err = h.fetcher.CatchUp(ctx)
	require.NoError(t, err)
	assert.Len(t, h.sink.Records(), 1)
	for _, e := range h.log.events {
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestCatchUp_StructuralFailuresQuarantined(t *testing.T) {
	h := newHarness(t)
	h.write(t, "2024-01-01.jsonl",
		`{not json`,
		`{"timestamp": "2024-01-01T00:00:00Z", "payload": {}}`,
		`{"timestamp": 17, "event_type": "Order", "payload": {}}`,
		`[1, 2, 3]`,
		line("2024-01-01T03:00:00Z", "Order", `{}`),
	)

	res, err := h.fetcher.CatchUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Appended)
	assert.Equal(t, 4, res.Quarantined)

	reasons := map[int]string{}
	for _, r := range h.sink.Records() {
		reasons[r.Line] = r.Reason
	}
	assert.Equal(t, map[int]string{
		1: models.ReasonInvalidJSON,
		2: models.ReasonMissingKeys,
		3: models.ReasonInvalidRecord,
		4: models.ReasonInvalidRecord,
	}, reasons)
}

func TestCatchUp_AppendFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	h.log.appendErr = errors.New("connection reset")
	h.write(t, "2024-01-01.jsonl", line("2024-01-01T00:00:00Z", "Order", `{}`))

	_, err := h.fetcher.CatchUp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, h.log.events)
}

func TestCatchUp_ListFailureSurfaces(t *testing.T) {
	h := newHarness(t)
	h.dir = filepath.Join(h.dir, "missing")

	_, err := h.fetcher.CatchUp(context.Background())
	assert.Error(t, err)
}

func TestSelectFiles(t *testing.T) {
	names := []string{
		"2024-01-03.jsonl",
		"2024-01-01.jsonl",
		"2024-02-30.jsonl",
		"2024-01-02.jsonl.tmp",
		"2024-1-2.jsonl",
		"events.jsonl",
		"2024-01-02.jsonl",
	}

	assert.Equal(t, []string{"2024-01-01.jsonl", "2024-01-02.jsonl", "2024-01-03.jsonl"}, SelectFiles(names, ".jsonl", nil))

	min := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"2024-01-02.jsonl", "2024-01-03.jsonl"}, SelectFiles(names, ".jsonl", &min))
}
