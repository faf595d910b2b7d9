package idempotency

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store. Expired keys are swept on every Add.
type Memory struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{seen: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Add(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, at := range m.seen {
		if now.Sub(at) >= ttl {
			delete(m.seen, k)
		}
	}

	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now
	return true, nil
}

// Len is the number of live keys as of the last sweep.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) Close() error { return nil }
