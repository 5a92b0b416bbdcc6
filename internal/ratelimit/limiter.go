// Package ratelimit enforces a fixed-window request budget per source
// identifier. Denial is an HTTP-level throttle only and never feeds
// back into license state.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of a single window check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter checks one request against the caller's current window.
type Limiter interface {
	Check(key string) Decision
}

// InMemoryLimiter keeps per-key fixed windows in process memory.
// Counters are per-process: a horizontally scaled deployment needs the
// Redis-backed limiter to enforce a global limit.
type InMemoryLimiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	items    map[string]window

	stopOnce sync.Once
	stop     chan struct{}
}

type window struct {
	count   int
	resetAt time.Time
}

// NewInMemory creates an in-process limiter allowing capacity requests
// per window.
func NewInMemory(capacity int, windowDuration time.Duration) *InMemoryLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if windowDuration <= 0 {
		windowDuration = time.Minute
	}
	return &InMemoryLimiter{
		capacity: capacity,
		window:   windowDuration,
		items:    make(map[string]window),
		stop:     make(chan struct{}),
	}
}

// Check records one request for key and reports whether it is allowed.
// A fresh window starts when none exists or the stored one has expired.
func (l *InMemoryLimiter) Check(key string) Decision {
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()

	curr, ok := l.items[key]
	if !ok || now.After(curr.resetAt) {
		curr = window{count: 0, resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[key] = curr

	remaining := l.capacity - curr.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   curr.count <= l.capacity,
		Limit:     l.capacity,
		Remaining: remaining,
		ResetAt:   curr.resetAt,
	}
}

// StartSweep launches a background sweep that drops expired windows on
// a fixed interval. Best-effort memory bounding only: stale windows
// self-correct on next access.
func (l *InMemoryLimiter) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep(time.Now().UTC())
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweep.
func (l *InMemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *InMemoryLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.items {
		if now.After(v.resetAt) {
			delete(l.items, k)
		}
	}
}

// size is used by tests to observe the sweep.
func (l *InMemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
