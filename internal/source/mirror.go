package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Mirror copies every file fully read through it into a local directory.
// A file only lands in the mirror after it was read to EOF.
type Mirror struct {
	Source
	dir string
}

// NewMirror wraps src so reads are also written under dir.
func NewMirror(src Source, dir string) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("create mirror dir: %w", err)
	}
	return &Mirror{Source: src, dir: dir}, nil
}

// Open implements Source.
func (m *Mirror) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := m.Source.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(m.dir, ".fetch-*")
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("create mirror temp file: %w", err)
	}
	return &mirrorReader{
		src:  rc,
		tmp:  tmp,
		dest: filepath.Join(m.dir, filepath.Base(name)),
	}, nil
}

type mirrorReader struct {
	src  io.ReadCloser
	tmp  *os.File
	dest string
	eof  bool
	werr error
}

func (r *mirrorReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 && r.werr == nil {
		_, r.werr = r.tmp.Write(p[:n])
	}
	if errors.Is(err, io.EOF) {
		r.eof = true
	}
	return n, err
}

// Close finalizes the mirror copy when the source was read completely;
// otherwise the partial copy is discarded.
func (r *mirrorReader) Close() error {
	srcErr := r.src.Close()
	tmpName := r.tmp.Name()

	if err := r.tmp.Close(); err != nil && r.werr == nil {
		r.werr = err
	}
	if !r.eof || r.werr != nil {
		_ = os.Remove(tmpName)
		if r.werr != nil {
			return fmt.Errorf("write mirror copy: %w", r.werr)
		}
		return srcErr
	}
	if err := os.Rename(tmpName, r.dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("finalize mirror copy: %w", err)
	}
	return srcErr
}
