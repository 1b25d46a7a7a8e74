package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/app"
	"github.com/PratikDhanave/event-projector/internal/config"
	"github.com/PratikDhanave/event-projector/internal/engine"
	"github.com/PratikDhanave/event-projector/internal/httpserver"
	"github.com/PratikDhanave/event-projector/internal/logger"
)

// main boots the ops API: config → DB → schema → optional scheduler → HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build projector", zap.Error(err))
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(cctx); err != nil {
			log.Error("Failed to close projector", zap.Error(err))
		}
	}()

	// Tables are created idempotently before serving.
	if err := a.Store.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}

	if cfg.HTTP.ScheduleInterval > 0 {
		go schedule(ctx, a.Engine, cfg.HTTP.ScheduleInterval, log)
	}

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		DB:         a.Store,
		Runner:     a.Engine,
		Quarantine: a.Store,
		Logger:     log,
	})
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error("Failed to shut down API server", zap.Error(err))
		}
	}()

	log.Info("API server starting",
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.HTTP.Addr),
		zap.Duration("schedule_interval", cfg.HTTP.ScheduleInterval))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("API server failed", zap.Error(err))
	}
	log.Info("API server stopped")
}

// schedule triggers a full run every interval. A tick that finds a run in
// progress is skipped.
func schedule(ctx context.Context, eng *engine.Engine, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := eng.Run(ctx, engine.Options{Fetch: true, Project: true})
			switch {
			case errors.Is(err, engine.ErrRunInProgress):
				log.Info("Scheduled run skipped, another run in progress")
			case err != nil:
				log.Error("Scheduled run failed", zap.String("run_id", rep.RunID), zap.Error(err))
			}
		}
	}
}
