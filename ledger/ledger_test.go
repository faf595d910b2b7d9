package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	f, err := NewFile(filepath.Join(dir, "balance.json"))
	require.NoError(t, err)

	s, err := NewSQLite(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return map[string]Store{"file": f, "sqlite": s}
}

func TestLoadDefaultsToBaseline(t *testing.T) {
	t.Parallel()

	for name, st := range stores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			l := New(st, d("1000"), nil)
			b, err := l.Load(context.Background(), AccountKey)
			require.NoError(t, err)
			assert.Equal(t, "1000.00", b.Amount.StringFixed(2))
			assert.True(t, b.LastUpdated.IsZero())
		})
	}
}

func TestCommitCompounds(t *testing.T) {
	t.Parallel()

	for name, st := range stores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := New(st, d("1000"), nil)

			p, err := l.Commit(ctx, AccountKey, d("12.345"))
			require.NoError(t, err)
			assert.Equal(t, "1000.00", p.Before.Amount.StringFixed(2))
			assert.Equal(t, "1012.35", p.After.Amount.StringFixed(2))

			p, err = l.Commit(ctx, AccountKey, d("-1100"))
			require.NoError(t, err)
			assert.Equal(t, "1012.35", p.Before.Amount.StringFixed(2))
			assert.Equal(t, "-87.65", p.After.Amount.StringFixed(2), "negative balances are kept, not clamped")

			// a fresh ledger over the same store sees the persisted value
			b, err := New(st, d("1000"), nil).Load(ctx, AccountKey)
			require.NoError(t, err)
			assert.Equal(t, "-87.65", b.Amount.StringFixed(2))
			assert.False(t, b.LastUpdated.IsZero())

			b, err = l.Reset(ctx, AccountKey)
			require.NoError(t, err)
			assert.Equal(t, "1000.00", b.Amount.StringFixed(2))

			b, err = l.Load(ctx, AccountKey)
			require.NoError(t, err)
			assert.Equal(t, "1000.00", b.Amount.StringFixed(2))
		})
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	for name, st := range stores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := New(st, d("500"), nil)

			_, err := l.Commit(ctx, "EUR_USD", d("25"))
			require.NoError(t, err)

			eu, err := l.Load(ctx, "EUR_USD")
			require.NoError(t, err)
			gu, err := l.Load(ctx, "GBP_USD")
			require.NoError(t, err)
			acct, err := l.Load(ctx, AccountKey)
			require.NoError(t, err)

			assert.Equal(t, "525.00", eu.Amount.StringFixed(2))
			assert.Equal(t, "500.00", gu.Amount.StringFixed(2))
			assert.Equal(t, "500.00", acct.Amount.StringFixed(2))
		})
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, AccountKey, Key(ScopeAccount, "EUR_USD"))
	assert.Equal(t, "EUR_USD", Key(ScopeInstrument, "EUR_USD"))
	assert.Equal(t, AccountKey, Key(ScopeInstrument, ""))
}

func TestFileFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "balance.json")
	st, err := NewFile(path)
	require.NoError(t, err)

	l := New(st, d("1000"), nil)
	l.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	_, err = l.Commit(context.Background(), AccountKey, d("0.5"))
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, map[string]string{"balance": "1000.50", "last_updated": "2024-05-06T07:08:09Z"}, got)
}

func TestCorruptFileFallsBackToBaseline(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "balance.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"balance":"lots"}`), 0o644))
	st, err := NewFile(path)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	l := New(st, d("750"), zap.New(core))

	b, err := l.Load(context.Background(), AccountKey)
	require.NoError(t, err)
	assert.Equal(t, "750.00", b.Amount.StringFixed(2))
	assert.Equal(t, 1, logs.FilterMessage("balance record unreadable, using baseline").Len())

	p, err := l.Commit(context.Background(), AccountKey, d("10"))
	require.NoError(t, err)
	assert.Equal(t, "750.00", p.Before.Amount.StringFixed(2))
	assert.Equal(t, "760.00", p.After.Amount.StringFixed(2))
}

type brokenStore struct{ getErr, putErr error }

func (s brokenStore) Get(context.Context, string) (Balance, error) { return Balance{}, s.getErr }
func (s brokenStore) Put(context.Context, string, Balance) error { return s.putErr }
func (s brokenStore) Close() error { return nil }

func TestPersistenceErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	disk := errors.New("disk full")

	l := New(brokenStore{getErr: disk}, d("1000"), nil)
	_, err := l.Load(ctx, AccountKey)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "load", pe.Op)
	assert.ErrorIs(t, err, disk)

	l = New(brokenStore{getErr: ErrNotFound, putErr: disk}, d("1000"), nil)
	_, err = l.Commit(ctx, AccountKey, d("1"))
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "commit", pe.Op)

	_, err = l.Reset(ctx, AccountKey)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "reset", pe.Op)
}

func TestConcurrentCommits(t *testing.T) {
	t.Parallel()

	for name, st := range stores(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := New(st, d("0"), nil)

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				before = map[string]bool{}
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					p, err := l.Commit(ctx, AccountKey, d("1.25"))
					assert.NoError(t, err)
					mu.Lock()
					before[p.Before.Amount.StringFixed(2)] = true
					mu.Unlock()
				}()
			}
			wg.Wait()

			b, err := l.Load(ctx, AccountKey)
			require.NoError(t, err)
			assert.Equal(t, "25.00", b.Amount.StringFixed(2))

			// every posting saw the balance left by the one before it
			assert.Len(t, before, 20)
			assert.True(t, before["0.00"])
			assert.True(t, before["23.75"])
		})
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("FXHOOK_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("FXHOOK_TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()

	pg, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })

	key := "test-" + time.Now().UTC().Format("20060102150405.000000000")
	t.Cleanup(func() { _, _ = pg.pool.Exec(ctx, `DELETE FROM fxhook_balances WHERE key = $1`, key) })

	l := New(pg, d("1000"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// separate ledgers share only the database lock
			_, err := New(pg, d("1000"), nil).Commit(ctx, key, d("-2.5"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := l.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "975.00", b.Amount.StringFixed(2))
}
