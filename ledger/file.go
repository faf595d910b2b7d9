package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rustyeddy/fxhook/internal/fsutil"
)

// File stores each key as a small JSON document. The account record lives
// at path; other keys go next to it as <name>.<key><ext>.
type File struct {
	path string
}

var _ Store = (*File)(nil)

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("ledger: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &File{path: path}, nil
}

func (f *File) Get(ctx context.Context, key string) (Balance, error) {
	b, err := os.ReadFile(f.pathFor(key))
	if errors.Is(err, os.ErrNotExist) {
		return Balance{}, ErrNotFound
	}
	if err != nil {
		return Balance{}, fmt.Errorf("read balance: %w", err)
	}
	return decodeJSON(b)
}

func (f *File) Put(ctx context.Context, key string, bal Balance) error {
	b, err := json.MarshalIndent(encode(bal), "", "  ")
	if err != nil {
		return fmt.Errorf("encode balance: %w", err)
	}
	return fsutil.WriteAtomic(f.pathFor(key), b)
}

func (f *File) Close() error { return nil }

func (f *File) pathFor(key string) string {
	if key == AccountKey {
		return f.path
	}
	ext := filepath.Ext(f.path)
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, key)
	return strings.TrimSuffix(f.path, ext) + "." + safe + ext
}
