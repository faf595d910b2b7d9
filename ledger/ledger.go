// Package ledger keeps the virtual balance that sizes new positions. The
// balance compounds with realized P/L and survives restarts.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ScopeAccount    = "account"
	ScopeInstrument = "instrument"

	// AccountKey is the record used when the ledger is account scoped.
	AccountKey = "account"
)

type Balance struct {
	Amount      decimal.Decimal
	LastUpdated time.Time
}

// Store persists one Balance per key.
type Store interface {
	// Get returns ErrNotFound when the key has no record and an error
	// wrapping ErrCorrupt when the record cannot be decoded.
	Get(ctx context.Context, key string) (Balance, error)
	Put(ctx context.Context, key string, b Balance) error
	Close() error
}

// Locker is implemented by stores that can serialize a read-modify-write
// across processes. fn runs with a context bound to the lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Key maps a ledger scope and instrument to a record key.
func Key(scope, instrument string) string {
	if scope == ScopeInstrument && instrument != "" {
		return instrument
	}
	return AccountKey
}

type Ledger struct {
	mu       sync.Mutex
	store    Store
	baseline decimal.Decimal
	log      *zap.Logger
	now      func() time.Time
}

func New(store Store, baseline decimal.Decimal, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		store:    store,
		baseline: baseline.Round(2),
		log:      log.Named("ledger"),
		now:      time.Now,
	}
}

func (l *Ledger) Baseline() decimal.Decimal { return l.baseline }

// Load returns the persisted balance, or the baseline when there is no
// usable record.
func (l *Ledger) Load(ctx context.Context, key string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx, key)
}

// Posting is the result of one Commit. Before and After are read and
// written under the same lock, so Before is the balance the delta was
// actually applied to.
type Posting struct {
	Key    string
	Before Balance
	After  Balance
	Delta  decimal.Decimal
}

// Commit adds delta to the balance, quantizes it to cents and persists it.
func (l *Ledger) Commit(ctx context.Context, key string, delta decimal.Decimal) (Posting, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := Posting{Key: key, Delta: delta}
	err := l.locked(ctx, key, func(ctx context.Context) error {
		var err error
		if p.Before, err = l.load(ctx, key); err != nil {
			return err
		}
		p.After = Balance{Amount: p.Before.Amount.Add(delta).Round(2), LastUpdated: l.now().UTC()}
		if err := l.store.Put(ctx, key, p.After); err != nil {
			return &PersistenceError{Op: "commit", Key: key, Err: err}
		}
		return nil
	})
	if err != nil {
		return Posting{}, err
	}

	l.log.Info("balance committed",
		zap.String("key", key),
		zap.String("before", p.Before.Amount.StringFixed(2)),
		zap.String("delta", delta.String()),
		zap.String("after", p.After.Amount.StringFixed(2)),
	)
	return p, nil
}

// Reset forces the balance back to the baseline.
func (l *Ledger) Reset(ctx context.Context, key string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Balance{Amount: l.baseline, LastUpdated: l.now().UTC()}
	err := l.locked(ctx, key, func(ctx context.Context) error {
		if err := l.store.Put(ctx, key, out); err != nil {
			return &PersistenceError{Op: "reset", Key: key, Err: err}
		}
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	l.log.Warn("balance reset to baseline", zap.String("key", key), zap.String("baseline", out.Amount.StringFixed(2)))
	return out, nil
}

func (l *Ledger) Close() error { return l.store.Close() }

func (l *Ledger) load(ctx context.Context, key string) (Balance, error) {
	b, err := l.store.Get(ctx, key)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, ErrNotFound):
		return Balance{Amount: l.baseline}, nil
	case errors.Is(err, ErrCorrupt):
		l.log.Warn("balance record unreadable, using baseline",
			zap.String("key", key),
			zap.String("baseline", l.baseline.StringFixed(2)),
			zap.Error(err),
		)
		return Balance{Amount: l.baseline}, nil
	default:
		return Balance{}, &PersistenceError{Op: "load", Key: key, Err: err}
	}
}

func (l *Ledger) locked(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lk, ok := l.store.(Locker)
	if !ok {
		return fn(ctx)
	}
	err := lk.WithLock(ctx, key, fn)
	var pe *PersistenceError
	if err != nil && !errors.As(err, &pe) {
		return &PersistenceError{Op: "lock", Key: key, Err: err}
	}
	return err
}
