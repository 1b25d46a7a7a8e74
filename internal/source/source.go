// Package source lists and opens the daily event files published by the
// simulator, wherever they live.
package source

import (
	"context"
	"fmt"
	"io"

	"github.com/PratikDhanave/event-projector/internal/config"
)

// Source is a flat directory of event files.
type Source interface {
	// List returns the file names (not paths) directly under the source root.
	List(ctx context.Context) ([]string, error)
	// Open streams the named file.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Close releases connections held by the source.
	Close() error
}

// Factory opens a fresh Source for one catch-up, so long-running processes do
// not hold remote connections between runs.
type Factory func(ctx context.Context) (Source, error)

// NewFactory returns the Factory selected by cfg.Kind, wrapped with a local
// mirror when cfg.MirrorDir is set.
func NewFactory(cfg config.SourceConfig) (Factory, error) {
	var open Factory
	switch cfg.Kind {
	case config.SourceLocal:
		open = func(context.Context) (Source, error) {
			return NewLocal(cfg.Dir), nil
		}
	case config.SourceSFTP:
		open = func(ctx context.Context) (Source, error) {
			return DialSFTP(ctx, SFTPConfig{
				Host:        cfg.SFTPHost,
				User:        cfg.SFTPUser,
				KeyPath:     cfg.SSHKeyPath,
				KnownHosts:  cfg.SSHKnownHosts,
				Dir:         cfg.Dir,
				DialTimeout: cfg.SSHDialTimeout,
			})
		}
	case config.SourceS3:
		open = func(ctx context.Context) (Source, error) {
			return NewS3Source(ctx, S3Config{
				Bucket:   cfg.Bucket,
				Prefix:   cfg.Prefix,
				Region:   cfg.Region,
				Endpoint: cfg.Endpoint,
			})
		}
	case config.SourceGCS:
		open = func(ctx context.Context) (Source, error) {
			return NewGCSSource(ctx, cfg.Bucket, cfg.Prefix)
		}
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}

	if cfg.MirrorDir == "" {
		return open, nil
	}
	return func(ctx context.Context) (Source, error) {
		src, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return NewMirror(src, cfg.MirrorDir)
	}, nil
}
