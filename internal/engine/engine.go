// Package engine runs one projector cycle: catch up the event log from the
// remote source, then project the unprojected events into staging tables.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/ingest"
	"github.com/PratikDhanave/event-projector/internal/lock"
	"github.com/PratikDhanave/event-projector/internal/models"
	"github.com/PratikDhanave/event-projector/internal/telemetry"
)

// ErrRunInProgress is returned when another run holds the run lock.
var ErrRunInProgress = errors.New("a projector run is already in progress")

// Fetcher catches the event log up with the remote source.
type Fetcher interface {
	CatchUp(ctx context.Context) (ingest.Result, error)
}

// Planner maps unprojected events into a batch.
type Planner interface {
	Plan(ctx context.Context, runID string) (*models.Batch, error)
}

// Writer commits a batch atomically.
type Writer interface {
	CommitAll(ctx context.Context, b *models.Batch) (map[string]int, error)
}

// Config is the engine's explicit configuration.
type Config struct {
	// RunTimeout bounds a whole run; 0 means no bound beyond the caller's.
	RunTimeout time.Duration
}

// Deps are the engine's collaborators.
type Deps struct {
	Fetcher Fetcher
	Planner Planner
	Writer  Writer
	Locker  lock.Locker
	Metrics *telemetry.Metrics
	Logger  *zap.Logger
}

// Options select the stages of a run. The zero value runs both.
type Options struct {
	Fetch   bool
	Project bool
}

// ProjectionReport summarizes the projection stage.
type ProjectionReport struct {
	Selected    int            `json:"selected"`
	Inserted    map[string]int `json:"inserted"`
	Filtered    map[string]int `json:"filtered"`
	Quarantined int            `json:"quarantined"`
}

// Report describes one run.
type Report struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   string            `json:"duration"`
	Fetch      *ingest.Result    `json:"fetch,omitempty"`
	Projection *ProjectionReport `json:"projection,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// NoNewData reports whether the run found nothing to do.
func (r Report) NoNewData() bool {
	if r.Fetch != nil && r.Fetch.Appended > 0 {
		return false
	}
	return r.Projection == nil || r.Projection.Selected == 0
}

// Engine orchestrates runs. It is safe for concurrent use; concurrent runs
// are rejected by the run lock.
type Engine struct {
	cfg     Config
	fetcher Fetcher
	planner Planner
	writer  Writer
	locker  lock.Locker
	metrics *telemetry.Metrics
	logger  *zap.Logger

	now   func() time.Time
	newID func() string

	mu   sync.RWMutex
	last *Report
}

func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:     cfg,
		fetcher: deps.Fetcher,
		planner: deps.Planner,
		writer:  deps.Writer,
		locker:  deps.Locker,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Run executes one cycle under the run lock. The fetch-append and the
// projection commit are separate transactions; a failure in either leaves
// nothing partially written.
func (e *Engine) Run(ctx context.Context, opts Options) (Report, error) {
	if !opts.Fetch && !opts.Project {
		opts = Options{Fetch: true, Project: true}
	}
	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	start := e.now()
	rep := Report{RunID: e.newID(), StartedAt: start.UTC()}
	logger := e.logger.With(zap.String("run_id", rep.RunID))

	release, err := e.locker.TryLock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			e.metrics.RecordRun(ctx, e.now().Sub(start), "locked")
			logger.Warn("Run skipped, another run holds the lock")
			return rep, ErrRunInProgress
		}
		return e.report(ctx, logger, rep, start, fmt.Errorf("acquire run lock: %w", err))
	}
	defer func() {
		// The lock is given back even when ctx is already done.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := release(rctx); err != nil {
			logger.Error("Failed to release run lock", zap.Error(err))
		}
	}()

	if opts.Fetch {
		res, err := e.fetcher.CatchUp(ctx)
		rep.Fetch = &res
		if err != nil {
			return e.report(ctx, logger, rep, start, fmt.Errorf("fetch: %w", err))
		}
		e.metrics.RecordFetch(ctx, res.Appended, res.Quarantined)
	}

	if opts.Project {
		proj, err := e.project(ctx, rep.RunID)
		rep.Projection = proj
		if err != nil {
			return e.report(ctx, logger, rep, start, fmt.Errorf("project: %w", err))
		}
	}

	return e.report(ctx, logger, rep, start, nil)
}

func (e *Engine) project(ctx context.Context, runID string) (*ProjectionReport, error) {
	batch, err := e.planner.Plan(ctx, runID)
	if err != nil {
		return nil, err
	}
	proj := &ProjectionReport{
		Selected:    len(batch.Ledger),
		Inserted:    map[string]int{},
		Filtered:    batch.Filtered,
		Quarantined: len(batch.Rejects),
	}

	inserted, err := e.writer.CommitAll(ctx, batch)
	if err != nil {
		return proj, err
	}
	proj.Inserted = inserted
	e.metrics.RecordProjection(ctx, inserted, batch.Filtered, len(batch.Rejects))
	return proj, nil
}

func (e *Engine) report(ctx context.Context, logger *zap.Logger, rep Report, start time.Time, err error) (Report, error) {
	end := e.now()
	rep.FinishedAt = end.UTC()
	rep.Duration = end.Sub(start).String()

	result := "ok"
	if err != nil {
		result = "error"
		rep.Error = err.Error()
	}
	e.metrics.RecordRun(ctx, end.Sub(start), result)

	e.mu.Lock()
	e.last = &rep
	e.mu.Unlock()

	fields := []zap.Field{zap.Duration("duration", end.Sub(start))}
	if rep.Fetch != nil {
		fields = append(fields,
			zap.String("fetch_outcome", string(rep.Fetch.Outcome)),
			zap.Int("appended", rep.Fetch.Appended))
	}
	if rep.Projection != nil {
		fields = append(fields,
			zap.Int("selected", rep.Projection.Selected),
			zap.Any("inserted", rep.Projection.Inserted),
			zap.Any("filtered", rep.Projection.Filtered),
			zap.Int("quarantined", rep.Projection.Quarantined))
	}
	if err != nil {
		logger.Error("Run failed", append(fields, zap.Error(err))...)
		return rep, err
	}
	logger.Info("Run finished", fields...)
	return rep, nil
}

// LastReport returns the most recent finished run, if any.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return Report{}, false
	}
	return *e.last, true
}
