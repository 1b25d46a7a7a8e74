package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSSource reads event files stored as objects under a GCS bucket prefix.
type GCSSource struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSSource creates a GCS-backed source using application default credentials.
func NewGCSSource(ctx context.Context, bucket, prefix string) (*GCSSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSSource{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: prefix,
	}, nil
}

// List implements Source.
func (g *GCSSource) List(ctx context.Context) ([]string, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: g.prefix, Delimiter: "/"})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed: %w", err)
		}
		// Delimiter groups nested keys into prefix-only entries.
		if attrs.Name == "" {
			continue
		}
		names = append(names, strings.TrimPrefix(attrs.Name, g.prefix))
	}
	return names, nil
}

// Open implements Source.
func (g *GCSSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(g.prefix + path.Base(name)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed for %s: %w", name, err)
	}
	return r, nil
}

// Close implements Source.
func (g *GCSSource) Close() error {
	return g.client.Close()
}
