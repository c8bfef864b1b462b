package cache

import (
	"context"
	"sync"
	"time"
)

// CooldownCache remembers which alert rules fired recently. Entries expire
// after the TTL given to Mark. It is a fast path only: the rule's
// last_triggered_at in the store stays authoritative.
type CooldownCache interface {
	Active(ctx context.Context, alertID int64) (bool, error)
	Mark(ctx context.Context, alertID int64, ttl time.Duration) error
	Close() error
}

// MemoryCooldown is a process-local CooldownCache.
type MemoryCooldown struct {
	mu      sync.Mutex
	expires map[int64]time.Time
	now     func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{
		expires: make(map[int64]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the expiry clock.
func (m *MemoryCooldown) WithClock(now func() time.Time) *MemoryCooldown {
	m.now = now
	return m
}

func (m *MemoryCooldown) Active(ctx context.Context, alertID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expires[alertID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.expires, alertID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryCooldown) Mark(ctx context.Context, alertID int64, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.expires[alertID] = m.now().Add(ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCooldown) Close() error { return nil }
