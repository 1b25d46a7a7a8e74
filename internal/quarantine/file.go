package quarantine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/PratikDhanave/event-projector/internal/models"
)

// fileEntry is one JSONL line of the file sink.
type fileEntry struct {
	models.QuarantineRecord
	Fingerprint string `json:"fingerprint"`
}

// FileSink appends records as JSON lines to a single file.
type FileSink struct {
	mu   sync.Mutex
	path string
	seen map[string]struct{}
}

// NewFileSink opens (creating if needed) the quarantine file at path and
// indexes the fingerprints it already holds.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create quarantine dir: %w", err)
	}

	s := &FileSink{path: path, seen: map[string]struct{}{}}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open quarantine file: %w", err)
	}
	defer f.Close()

	if err := s.index(f); err != nil {
		return nil, fmt.Errorf("index quarantine file: %w", err)
	}
	return s, nil
}

func (s *FileSink) index(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		var e struct {
			Fingerprint string `json:"fingerprint"`
		}
		// A torn trailing line from a crash is not fatal.
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.Fingerprint == "" {
			continue
		}
		s.seen[e.Fingerprint] = struct{}{}
	}
	return sc.Err()
}

// maxLineBytes bounds a single quarantine line when re-indexing.
const maxLineBytes = 16 << 20

// Record implements Sink. Records are appended and synced before returning.
func (s *FileSink) Record(_ context.Context, recs ...models.QuarantineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open quarantine file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	added := map[string]struct{}{}
	for _, rec := range recs {
		fp := rec.Fingerprint()
		if _, ok := s.seen[fp]; ok {
			continue
		}
		if _, ok := added[fp]; ok {
			continue
		}
		b, err := json.Marshal(fileEntry{QuarantineRecord: rec, Fingerprint: fp})
		if err != nil {
			return fmt.Errorf("encode quarantine record: %w", err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("write quarantine record: %w", err)
		}
		added[fp] = struct{}{}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush quarantine file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync quarantine file: %w", err)
	}

	for fp := range added {
		s.seen[fp] = struct{}{}
	}
	return nil
}
