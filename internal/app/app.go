// Package app builds the projector from configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/config"
	"github.com/PratikDhanave/event-projector/internal/engine"
	"github.com/PratikDhanave/event-projector/internal/ingest"
	"github.com/PratikDhanave/event-projector/internal/lock"
	"github.com/PratikDhanave/event-projector/internal/projection"
	"github.com/PratikDhanave/event-projector/internal/quarantine"
	"github.com/PratikDhanave/event-projector/internal/source"
	"github.com/PratikDhanave/event-projector/internal/store"
	"github.com/PratikDhanave/event-projector/internal/telemetry"
)

// App holds the wired projector and the resources it owns.
type App struct {
	Store    *store.PostgresStore
	Registry *projection.Registry
	Engine   *engine.Engine

	telemetry *telemetry.Provider
	redis     *redis.Client
}

// New connects to the database and wires every stage from cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	dsn, err := cfg.DB.DSN()
	if err != nil {
		return nil, err
	}
	st, err := store.NewPostgresStore(ctx, dsn, store.Strategy(cfg.Projection.Strategy))
	if err != nil {
		return nil, err
	}
	a := &App{Store: st}

	if err := a.wire(ctx, cfg, logger); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	sink, err := quarantineSink(cfg.Quarantine, a.Store)
	if err != nil {
		return err
	}
	recorder := quarantine.NewRecorder(sink, logger.Named("quarantine"))

	open, err := source.NewFactory(cfg.Source)
	if err != nil {
		return err
	}
	fetcher := ingest.NewFetcher(open, a.Store, recorder, ingest.Config{
		Ext:            cfg.Source.Ext,
		Timeout:        cfg.Fetch.Timeout,
		FilesPerSecond: cfg.Fetch.FilesPerSecond,
	}, logger.Named("fetch"))

	reg, err := projection.DefaultRegistry(projection.Options{
		SOPDisallowedPrefixes: cfg.Projection.SOPDisallowedPrefixes,
	})
	if err != nil {
		return fmt.Errorf("register kinds: %w", err)
	}
	a.Registry = reg
	router := projection.NewRouter(reg, a.Store, projection.Config{
		Workers: cfg.Projection.Workers,
		Limit:   cfg.Projection.BatchLimit,
	}, logger.Named("projection"))

	locker, err := a.locker(ctx, cfg.Lock)
	if err != nil {
		return err
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	a.telemetry = tp
	metrics, err := telemetry.NewMetrics(tp.Meter())
	if err != nil {
		return err
	}

	a.Engine = engine.New(engine.Config{RunTimeout: cfg.RunTimeout}, engine.Deps{
		Fetcher: fetcher,
		Planner: router,
		Writer:  a.Store,
		Locker:  locker,
		Metrics: metrics,
		Logger:  logger.Named("engine"),
	})
	return nil
}

func quarantineSink(cfg config.QuarantineConfig, st *store.PostgresStore) (quarantine.Sink, error) {
	switch cfg.Sink {
	case config.SinkFile:
		return quarantine.NewFileSink(cfg.Path)
	case config.SinkTable, "":
		return st, nil
	default:
		return nil, fmt.Errorf("unknown quarantine sink %q", cfg.Sink)
	}
}

// locker prefers Redis when configured; otherwise runs are serialized by a
// Postgres advisory lock on the projector's own database.
func (a *App) locker(ctx context.Context, cfg config.LockConfig) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		return lock.NewAdvisoryLocker(a.Store.DB(), cfg.Key), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.redis = client
	return lock.NewRedisLocker(client, cfg.Key, cfg.TTL), nil
}

// Close flushes metrics and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	a.Store.Close()
	return errors.Join(errs...)
}
