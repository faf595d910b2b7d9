package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rustyeddy/fxhook/internal/fsutil"
)

// File keeps the journal as one JSON array, most recent last.
type File struct {
	mu   sync.Mutex
	path string
	max  int
}

var _ Journal = (*File)(nil)

func NewFile(path string, maxRecords int) (*File, error) {
	if path == "" {
		return nil, errors.New("journal: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &File{path: path, max: capOf(maxRecords)}, nil
}

func (j *File) Append(ctx context.Context, rec TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs, err := j.read()
	if err != nil {
		return err
	}
	recs = tail(append(recs, rec), j.max)

	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}
	return fsutil.WriteAtomic(j.path, b)
}

func (j *File) Recent(ctx context.Context, n int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	recs, err := j.read()
	if err != nil {
		return nil, err
	}
	return tail(recs, n), nil
}

func (j *File) Close() error { return nil }

func (j *File) read() ([]TradeRecord, error) {
	b, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}

	var recs []TradeRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode journal %s: %w", j.path, err)
	}
	return recs, nil
}
