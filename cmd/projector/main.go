// Command projector runs one projector cycle and exits.
//
//	projector [run|fetch|project|migrate] [flags]
//
// Exit status is 0 on success (including when there was no new data), 1 on
// failure and 2 on a usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/app"
	"github.com/PratikDhanave/event-projector/internal/config"
	"github.com/PratikDhanave/event-projector/internal/engine"
	"github.com/PratikDhanave/event-projector/internal/logger"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// invocation is a parsed command line.
type invocation struct {
	command string
	opts    engine.Options

	sourceDir string
	strategy  string
	limit     int
	timeout   time.Duration
}

func parseArgs(args []string, stderr io.Writer) (invocation, error) {
	inv := invocation{command: "run", limit: -1}
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		inv.command, args = args[0], args[1:]
	}

	switch inv.command {
	case "run":
		inv.opts = engine.Options{Fetch: true, Project: true}
	case "fetch":
		inv.opts = engine.Options{Fetch: true}
	case "project":
		inv.opts = engine.Options{Project: true}
	case "migrate":
	default:
		return inv, fmt.Errorf("unknown command %q", inv.command)
	}

	fs := flag.NewFlagSet("projector "+inv.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&inv.sourceDir, "source-dir", "", "override SOURCE_DIR")
	fs.StringVar(&inv.strategy, "strategy", "", "override PROJECTION_STRATEGY (ledger|antijoin)")
	fs.IntVar(&inv.limit, "limit", -1, "override PROJECTION_BATCH_LIMIT (0 = no cap)")
	fs.DurationVar(&inv.timeout, "timeout", 0, "override RUN_TIMEOUT")
	if err := fs.Parse(args); err != nil {
		return inv, err
	}
	if fs.NArg() > 0 {
		return inv, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return inv, nil
}

// overlay applies flag overrides on top of the environment configuration.
func (inv invocation) overlay(cfg config.Config) (config.Config, error) {
	if inv.sourceDir != "" {
		cfg.Source.Dir = inv.sourceDir
	}
	if inv.strategy != "" {
		cfg.Projection.Strategy = inv.strategy
	}
	if inv.limit >= 0 {
		cfg.Projection.BatchLimit = inv.limit
	}
	if inv.timeout > 0 {
		cfg.RunTimeout = inv.timeout
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	inv, err := parseArgs(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		fmt.Fprintln(stderr, "usage: projector [run|fetch|project|migrate] [flags]")
		return exitUsage
	}

	cfg, err := config.Load()
	if err == nil {
		cfg, err = inv.overlay(cfg)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(stderr, "Error: initialize logger: %v\n", err)
		return exitFail
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build projector", zap.Error(err))
		return exitFail
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(cctx); err != nil {
			log.Error("Failed to close projector", zap.Error(err))
		}
	}()

	if err := a.Store.EnsureSchema(ctx); err != nil {
		log.Error("Failed to ensure schema", zap.Error(err))
		return exitFail
	}
	if inv.command == "migrate" {
		fmt.Fprintln(stdout, "schema up to date")
		return exitOK
	}

	rep, err := a.Engine.Run(ctx, inv.opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFail
	}
	printSummary(stdout, rep)
	return exitOK
}

// printSummary writes a human-readable run summary with one line per kind.
func printSummary(w io.Writer, rep engine.Report) {
	fmt.Fprintf(w, "run %s finished in %s\n", rep.RunID, rep.Duration)
	if rep.NoNewData() {
		fmt.Fprintln(w, "no new data")
	}
	if f := rep.Fetch; f != nil {
		fmt.Fprintf(w, "fetch: %s, %d file(s), %d appended, %d stale, %d quarantined\n",
			f.Outcome, len(f.Files), f.Appended, f.Stale, f.Quarantined)
	}
	p := rep.Projection
	if p == nil {
		return
	}
	fmt.Fprintf(w, "project: %d selected, %d quarantined\n", p.Selected, p.Quarantined)

	kinds := map[string]struct{}{}
	for k := range p.Inserted {
		kinds[k] = struct{}{}
	}
	for k := range p.Filtered {
		kinds[k] = struct{}{}
	}
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		line := fmt.Sprintf("  %-22s %6d inserted", k, p.Inserted[k])
		if n := p.Filtered[k]; n > 0 {
			line += fmt.Sprintf(", %d filtered", n)
		}
		fmt.Fprintln(w, line)
	}
}
