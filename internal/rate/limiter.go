package rate

import (
	"strings"
	"sync"
	"time"
)

// Limiter is a fixed-window limiter keyed by caller.
type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

type MemoryLimiter struct {
	mu    sync.Mutex
	store map[string]*bucket
	now   func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
	window  time.Duration
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]*bucket), now: time.Now}
}

// Key joins an action with caller identifiers, e.g. Key("submit", "ip", addr).
func Key(action string, parts ...string) string {
	return action + ":" + strings.Join(parts, ":")
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.store[key]
	if !ok || now.After(b.resetAt) || b.window != window {
		b = &bucket{count: 0, resetAt: now.Add(window), window: window}
		m.store[key] = b
	}

	if b.count >= limit {
		return false, b.resetAt.Sub(now)
	}

	b.count++
	return true, b.resetAt.Sub(now)
}

// Sweep drops buckets whose window has passed.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, b := range m.store {
		if now.After(b.resetAt) {
			delete(m.store, k)
			n++
		}
	}
	return n
}
