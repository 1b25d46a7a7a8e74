package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/event-projector/internal/models"
)

// Selector returns events not yet projected, ascending by event ID.
type Selector interface {
	Unprojected(ctx context.Context, dests []models.Destination, limit int) ([]models.Event, error)
}

// Config tunes the router.
type Config struct {
	// Workers bounds the kinds transformed concurrently.
	Workers int
	// Limit caps the events selected per run; 0 means no cap.
	Limit int
}

// Router turns the unprojected slice of the log into one batch.
type Router struct {
	registry *Registry
	selector Selector
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewRouter(registry *Registry, selector Selector, cfg Config, logger *zap.Logger) *Router {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Router{
		registry: registry,
		selector: selector,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type kindResult struct {
	rows     []models.Row
	ledger   []models.LedgerEntry
	rejects  []models.QuarantineRecord
	filtered int
	unmapped map[string]int
}

// Plan selects the unprojected events and maps each one exactly once, by its
// own kind. Every selected event gets a ledger entry: projected, filtered or
// quarantined.
func (r *Router) Plan(ctx context.Context, runID string) (*models.Batch, error) {
	dests := r.registry.Destinations()
	events, err := r.selector.Unprojected(ctx, dests, r.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("select unprojected events: %w", err)
	}

	groups := map[string][]models.Event{}
	for _, e := range events {
		groups[e.Kind] = append(groups[e.Kind], e)
	}
	tags := make([]string, 0, len(groups))
	for tag := range groups {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	now := r.now().UTC()
	results := make([]kindResult, len(tags))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, tag := range tags {
		kind, ok := r.registry.Lookup(tag)
		if !ok {
			// Selection is restricted to registered kinds.
			r.logger.Warn("Skipping events of unregistered kind", zap.String("kind", tag), zap.Int("events", len(groups[tag])))
			continue
		}
		g.Go(func() error {
			res, err := transformKind(gctx, kind, groups[tag], runID, now)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := models.NewBatch(runID)
	for i, tag := range tags {
		kind, ok := r.registry.Lookup(tag)
		if !ok {
			continue
		}
		res := results[i]
		batch.Destinations[tag] = kind.Destination()
		if len(res.rows) > 0 {
			batch.Rows[tag] = res.rows
		}
		batch.Ledger = append(batch.Ledger, res.ledger...)
		batch.Rejects = append(batch.Rejects, res.rejects...)
		if res.filtered > 0 {
			batch.Filtered[tag] = res.filtered
		}
		for field, n := range res.unmapped {
			r.logger.Info("Unmapped payload field",
				zap.String("kind", tag),
				zap.String("field", field),
				zap.Int("events", n))
		}
	}

	sort.Slice(batch.Ledger, func(i, j int) bool { return batch.Ledger[i].EventID < batch.Ledger[j].EventID })

	r.logger.Info("Planned projection",
		zap.String("run_id", runID),
		zap.Int("selected", len(events)),
		zap.Int("rows", batch.RowCount()),
		zap.Int("quarantined", len(batch.Rejects)),
		zap.Any("filtered", batch.Filtered))
	return batch, nil
}

// transformKind maps one kind's events in event ID order.
func transformKind(ctx context.Context, kind *Kind, events []models.Event, runID string, now time.Time) (kindResult, error) {
	res := kindResult{unmapped: map[string]int{}}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		entry := models.LedgerEntry{EventID: ev.ID, Kind: kind.Tag, RunID: runID, ProjectedAt: now}

		row, unmapped, err := kind.Transform(ev)
		for _, f := range unmapped {
			res.unmapped[f]++
		}

		switch {
		case err != nil:
			var me *MappingError
			reason := models.ReasonMappingFailure
			if errors.As(err, &me) {
				reason = me.Reason
			}
			res.rejects = append(res.rejects, models.QuarantineRecord{
				Stage:         models.StageProjection,
				SourceEventID: ev.ID,
				Kind:          ev.Kind,
				RawTimestamp:  ev.Timestamp.UTC().Format(time.RFC3339Nano),
				Payload:       ev.Payload,
				Reason:        reason,
				Detail:        err.Error(),
				RecordedAt:    now,
			})
			entry.Outcome = models.OutcomeQuarantined
		case kind.Filtered(row):
			res.filtered++
			entry.Outcome = models.OutcomeFiltered
		default:
			res.rows = append(res.rows, row)
			entry.Outcome = models.OutcomeProjected
		}
		res.ledger = append(res.ledger, entry)
	}
	return res, nil
}
