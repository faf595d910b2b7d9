package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "balance.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"a":1}`)))
	require.NoError(t, WriteAtomic(path, []byte(`{"a":2}`)))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "balance.json", entries[0].Name())
}

func TestWriteAtomicMissingDir(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nope", "trades.json")

	err := WriteAtomic(path, []byte("[]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp file")
}
