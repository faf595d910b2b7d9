// Package idempotency drops repeated signals inside a short window.
package idempotency

import (
	"context"
	"fmt"
	"time"
)

const DefaultTTL = 10 * time.Minute

// Store records keys for a fixed TTL. Add reports whether key was absent
// (and is now recorded).
type Store interface {
	Add(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

type Guard struct {
	store Store
	ttl   time.Duration
}

func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// CheckAndRecord returns true the first time key is seen within the TTL.
// An empty key is always fresh.
func (g *Guard) CheckAndRecord(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	fresh, err := g.store.Add(ctx, key, g.ttl)
	if err != nil {
		return false, fmt.Errorf("check idempotency key %q: %w", key, err)
	}
	return fresh, nil
}

func (g *Guard) TTL() time.Duration { return g.ttl }

func (g *Guard) Close() error { return g.store.Close() }
