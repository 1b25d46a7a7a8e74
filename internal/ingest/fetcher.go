// Package ingest pulls new event files from the remote source into the event
// log, bounded by the log's own watermark.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/PratikDhanave/event-projector/internal/eventtime"
	"github.com/PratikDhanave/event-projector/internal/models"
	"github.com/PratikDhanave/event-projector/internal/quarantine"
	"github.com/PratikDhanave/event-projector/internal/source"
)

// EventLog is the part of the event log store the fetcher needs.
type EventLog interface {
	MaxTimestamp(ctx context.Context) (time.Time, bool, error)
	Append(ctx context.Context, events []models.Event) (int, error)
}

// Outcome summarizes a catch-up.
type Outcome string

const (
	OutcomeNoNewFiles  Outcome = "no_new_files"
	OutcomeNoNewEvents Outcome = "no_new_events"
	OutcomeAppended    Outcome = "appended"
)

// Config tunes the fetcher.
type Config struct {
	Ext            string
	Timeout        time.Duration
	FilesPerSecond float64
}

// Result reports what a catch-up did.
type Result struct {
	Outcome      Outcome   `json:"outcome"`
	Watermark    time.Time `json:"watermark,omitempty"`
	HasWatermark bool      `json:"has_watermark"`
	Files        []string  `json:"files"`
	Lines        int       `json:"lines"`
	Quarantined  int       `json:"quarantined"`
	Stale        int       `json:"stale"`
	Appended     int       `json:"appended"`
}

// maxLineBytes bounds a single event line.
const maxLineBytes = 16 << 20

// Fetcher is the remote catch-up stage.
type Fetcher struct {
	open       source.Factory
	log        EventLog
	quarantine *quarantine.Recorder
	parser     *Parser
	limiter    *rate.Limiter
	cfg        Config
	logger     *zap.Logger
}

// NewFetcher creates a fetcher reading through open and appending to log.
func NewFetcher(open source.Factory, log EventLog, q *quarantine.Recorder, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Ext == "" {
		cfg.Ext = ".jsonl"
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.FilesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FilesPerSecond), 1)
	}
	return &Fetcher{
		open:       open,
		log:        log,
		quarantine: q,
		parser:     NewParser(),
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

// CatchUp fetches files dated on or after the watermark's day, drops records
// at or before the watermark, and appends the rest in one transaction.
// Running it again with no new remote data is a no-op.
func (f *Fetcher) CatchUp(ctx context.Context) (Result, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	var res Result
	wm, ok, err := f.log.MaxTimestamp(ctx)
	if err != nil {
		return res, fmt.Errorf("read watermark: %w", err)
	}
	res.Watermark, res.HasWatermark = wm, ok

	var minDate *time.Time
	if ok {
		d := eventtime.Date(wm)
		minDate = &d
	}

	src, err := f.open(ctx)
	if err != nil {
		return res, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			f.logger.Warn("Failed to close source", zap.Error(err))
		}
	}()

	names, err := src.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list source: %w", err)
	}
	res.Files = SelectFiles(names, f.cfg.Ext, minDate)
	if len(res.Files) == 0 {
		res.Outcome = OutcomeNoNewFiles
		f.logger.Info("No new events files found", zap.Int("listed", len(names)))
		return res, nil
	}

	var events []models.Event
	var rejects []models.QuarantineRecord
	for _, name := range res.Files {
		if err := f.limiter.Wait(ctx); err != nil {
			return res, err
		}
		evs, rej, lines, err := f.readFile(ctx, src, name)
		if err != nil {
			return res, err
		}
		res.Lines += lines
		events = append(events, evs...)
		rejects = append(rejects, rej...)
		f.logger.Debug("Read events file",
			zap.String("file", name),
			zap.Int("lines", lines),
			zap.Int("events", len(evs)),
			zap.Int("rejected", len(rej)))
	}

	res.Quarantined = len(rejects)
	f.quarantine.Record(ctx, rejects...)

	events, res.Stale = AfterWatermark(events, wm, ok)
	if len(events) == 0 {
		res.Outcome = OutcomeNoNewEvents
		f.logger.Info("No new events after filtering by timestamp",
			zap.Int("stale", res.Stale),
			zap.Int("quarantined", res.Quarantined))
		return res, nil
	}

	n, err := f.log.Append(ctx, events)
	if err != nil {
		return res, fmt.Errorf("append events: %w", err)
	}
	res.Appended = n
	res.Outcome = OutcomeAppended
	f.logger.Info("Loaded new events",
		zap.Int("appended", n),
		zap.Int("files", len(res.Files)),
		zap.Int("stale", res.Stale),
		zap.Int("quarantined", res.Quarantined))
	return res, nil
}

func (f *Fetcher) readFile(ctx context.Context, src source.Source, name string) ([]models.Event, []models.QuarantineRecord, int, error) {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("fetch %s: %w", name, err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			f.logger.Warn("Failed to close events file", zap.String("file", name), zap.Error(err))
		}
	}()

	events, rejects, lines, err := f.parse(name, rc)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("read %s: %w", name, err)
	}
	return events, rejects, lines, nil
}

func (f *Fetcher) parse(name string, r io.Reader) ([]models.Event, []models.QuarantineRecord, int, error) {
	var (
		events  []models.Event
		rejects []models.QuarantineRecord
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, rej := f.parser.ParseLine(name, lineNo, bytes.Clone(line))
		if rej != nil {
			rejects = append(rejects, *rej)
			continue
		}
		events = append(events, *ev)
	}
	return events, rejects, lineNo, sc.Err()
}
