package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/event-projector/internal/models"
)

var fixedNow = time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T, strategy Strategy) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, strategy)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

var (
	orders = models.Destination{
		Kind:    "Order",
		Table:   "stg_orders",
		Columns: []string{"order_id", "qty", "source_event_id"},
	}
	invoices = models.Destination{
		Kind:    "Invoice",
		Table:   "stg_invoices",
		Columns: []string{"invoice_id", "amount", "source_event_id"},
	}
)

func TestAppend_OneTransactionInOrder(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	t1 := time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO fact_events (timestamp, event_type, payload)`))
	prep.ExpectExec().WithArgs(t1, "Order", `{"order_id":"a"}`).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs(t2, "Invoice", nil).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	n, err := s.Append(context.Background(), []models.Event{
		{Timestamp: t1, Kind: "Order", Payload: []byte(`{"order_id":"a"}`)},
		{Timestamp: t2, Kind: "Invoice"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_FailureRollsBackWholeBatch(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	ts := time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC)
	boom := errors.New("connection lost")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO fact_events`))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(boom)
	mock.ExpectRollback()

	n, err := s.Append(context.Background(), []models.Event{
		{Timestamp: ts, Kind: "Order", Payload: []byte(`{}`)},
		{Timestamp: ts.Add(time.Second), Kind: "Order", Payload: []byte(`{}`)},
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_EmptyBatchIsNoop(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	n, err := s.Append(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxTimestamp(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(timestamp) FROM fact_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	_, ok, err := s.MaxTimestamp(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	wm := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT MAX(timestamp) FROM fact_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(wm))
	got, ok, err := s.MaxTimestamp(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, wm.Equal(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnprojected_LedgerStrategy(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	ts := time.Date(2024, 1, 3, 5, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE e\.event_type IN \(\$1, \$2\)\s+AND NOT EXISTS \(SELECT 1 FROM projection_ledger l WHERE l\.event_id = e\.event_id\)\s+ORDER BY e\.event_id\s+LIMIT 50`).
		WithArgs("Order", "Invoice").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "timestamp", "event_type", "payload"}).
			AddRow(int64(7), ts, "Order", []byte(`{"order_id":"a"}`)).
			AddRow(int64(9), ts, "Invoice", []byte(`{}`)))

	events, err := s.Unprojected(context.Background(), []models.Destination{orders, invoices}, 50)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(7), events[0].ID)
	assert.Equal(t, "Order", events[0].Kind)
	assert.JSONEq(t, `{"order_id":"a"}`, string(events[0].Payload))
	assert.Equal(t, int64(9), events[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnprojected_AntiJoinStrategy(t *testing.T) {
	s, mock := newMockStore(t, StrategyAntiJoin)

	mock.ExpectQuery(`NOT EXISTS \(SELECT 1 FROM "stg_orders" s WHERE s\.source_event_id = e\.event_id\)\s+` +
		`AND NOT EXISTS \(SELECT 1 FROM "stg_invoices" s WHERE s\.source_event_id = e\.event_id\)\s+` +
		`AND NOT EXISTS \(SELECT 1 FROM quarantine_records q WHERE q\.source_event_id = e\.event_id\)\s+` +
		`ORDER BY e\.event_id$`).
		WithArgs("Order", "Invoice").
		WillReturnRows(sqlmock.NewRows([]string{"event_id", "timestamp", "event_type", "payload"}))

	events, err := s.Unprojected(context.Background(), []models.Destination{orders, invoices}, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnprojected_NoKinds(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	events, err := s.Unprojected(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Nil(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func batchFixture() *models.Batch {
	b := models.NewBatch("5b0c1c9e-3f57-4a39-9a59-0b8e0d3b8d11")
	b.Destinations["Order"] = orders
	b.Destinations["Invoice"] = invoices
	b.Rows["Order"] = []models.Row{
		{"order_id": "a0000000-0000-0000-0000-000000000001", "qty": int64(3), "source_event_id": int64(1)},
	}
	b.Rows["Invoice"] = []models.Row{
		{"invoice_id": "b0000000-0000-0000-0000-000000000001", "amount": "10.50", "source_event_id": int64(2)},
	}
	b.Ledger = []models.LedgerEntry{
		{EventID: 1, Kind: "Order", Outcome: models.OutcomeProjected, RunID: b.RunID, ProjectedAt: fixedNow},
		{EventID: 2, Kind: "Invoice", Outcome: models.OutcomeProjected, RunID: b.RunID, ProjectedAt: fixedNow},
	}
	return b
}

func TestCommitAll_CommitsEveryKind(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	b := batchFixture()
	b.Rejects = []models.QuarantineRecord{{
		Stage:         models.StageProjection,
		SourceEventID: 3,
		Kind:          "DeliveryEvent",
		Payload:       []byte(`{"event_type":"Arrival"}`),
		Reason:        models.ReasonMappingFailure,
		Detail:        `event_type: unmapped code "Arrival"`,
		RecordedAt:    fixedNow,
	}}
	b.Ledger = append(b.Ledger, models.LedgerEntry{EventID: 3, Kind: "DeliveryEvent", Outcome: models.OutcomeQuarantined, RunID: b.RunID, ProjectedAt: fixedNow})

	mock.ExpectBegin()
	// Kinds are written in sorted tag order.
	inv := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "stg_invoices" ("invoice_id", "amount", "source_event_id") VALUES ($1, $2, $3)`))
	inv.ExpectExec().WithArgs("b0000000-0000-0000-0000-000000000001", "10.50", int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	ord := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "stg_orders" ("order_id", "qty", "source_event_id") VALUES ($1, $2, $3)`))
	ord.ExpectExec().WithArgs("a0000000-0000-0000-0000-000000000001", int64(3), int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	ledger := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO projection_ledger`))
	ledger.ExpectExec().WithArgs(int64(1), "Order", "projected", b.RunID, fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	ledger.ExpectExec().WithArgs(int64(2), "Invoice", "projected", b.RunID, fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	ledger.ExpectExec().WithArgs(int64(3), "DeliveryEvent", "quarantined", b.RunID, fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	q := mock.ExpectPrepare(`INSERT INTO quarantine_records`)
	q.ExpectExec().WithArgs(
		"projection", nil, nil, int64(3), "DeliveryEvent", nil, `{"event_type":"Arrival"}`, nil,
		"Mapping error", `event_type: unmapped code "Arrival"`, b.Rejects[0].Fingerprint(), fixedNow,
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	counts, err := s.CommitAll(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Order": 1, "Invoice": 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failure on the second kind rolls back the first kind's rows too.
func TestCommitAll_FailureAfterFirstKindRollsBackEverything(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	b := batchFixture()
	dup := errors.New(`duplicate key value violates unique constraint "stg_orders_source_event_id_key"`)

	mock.ExpectBegin()
	inv := mock.ExpectPrepare(`INSERT INTO "stg_invoices"`)
	inv.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	ord := mock.ExpectPrepare(`INSERT INTO "stg_orders"`)
	ord.ExpectExec().WillReturnError(dup)
	mock.ExpectRollback()

	counts, err := s.CommitAll(context.Background(), b)
	require.Error(t, err)
	assert.ErrorIs(t, err, dup)
	assert.Contains(t, err.Error(), "stg_orders")
	assert.Nil(t, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitAll_CommitFailureSurfaces(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	b := models.NewBatch("run")
	b.Ledger = []models.LedgerEntry{{EventID: 4, Kind: "SOPSnapshot", Outcome: models.OutcomeFiltered, RunID: "run", ProjectedAt: fixedNow}}

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO projection_ledger`).ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

	_, err := s.CommitAll(context.Background(), b)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitAll_EmptyBatchTouchesNothing(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	counts, err := s.CommitAll(context.Background(), models.NewBatch("run"))
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_IgnoresKnownFingerprints(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	rec := models.QuarantineRecord{
		Stage:        models.StageFetch,
		Source:       "2026-01-01.jsonl",
		Line:         1,
		Kind:         "X",
		RawTimestamp: "2026-01-01T25:00:00Z",
		Payload:      []byte(`{}`),
		Raw:          `{"timestamp": "2026-01-01T25:00:00Z", "event_type": "X", "payload": {}}`,
		Reason:       models.ReasonInvalidDate,
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(`ON CONFLICT \(fingerprint\) DO NOTHING`).ExpectExec().
		WithArgs("fetch", "2026-01-01.jsonl", int64(1), nil, "X", "2026-01-01T25:00:00Z", `{}`, rec.Raw,
			"Invalid date", nil, rec.Fingerprint(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.Record(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListQuarantine(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)

	mock.ExpectQuery(`FROM quarantine_records\s+ORDER BY id DESC\s+LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"stage", "source", "line_no", "source_event_id", "kind", "raw_timestamp", "payload", "raw", "reason", "detail", "recorded_at"}).
			AddRow("fetch", "2026-01-01.jsonl", int64(1), nil, "X", "2026-01-01T25:00:00Z", []byte(`{}`), "raw", "Invalid date", nil, fixedNow).
			AddRow("projection", nil, nil, int64(12), "DeliveryEvent", nil, nil, nil, "Mapping error", "bad code", fixedNow))

	recs, err := s.ListQuarantine(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2026-01-01T25:00:00Z", recs[0].RawTimestamp)
	assert.Equal(t, 1, recs[0].Line)
	assert.Equal(t, int64(12), recs[1].SourceEventID)
	assert.Nil(t, recs[1].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMockStore(t, StrategyLedger)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fact_events`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
