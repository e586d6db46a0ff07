package ratelimit

import (
	"sync"
	"time"
)

// Limiter guards the payment endpoints. The in-memory implementation is a
// single-instance mitigation only; horizontally scaled deployments use the
// Redis implementation so counters are shared.
type Limiter interface {
	Allow(key string) bool
}

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a fixed-window counter per key.
type MemoryLimiter struct {
	Limit  int
	Window time.Duration

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryLimiter(limit int, windowDur time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 10
	}
	if windowDur <= 0 {
		windowDur = time.Minute
	}
	return &MemoryLimiter{
		Limit:   limit,
		Window:  windowDur,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.Window {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= l.Limit {
		return false
	}
	w.count++
	return true
}
