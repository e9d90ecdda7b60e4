package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window request counter keyed by caller-defined strings
// (typically "<senderID>:<command>"). A key at capacity within the window is
// refused without recording the attempt.
type Limiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	history map[string][]time.Time
	now     func() time.Time
}

// New creates a limiter with default per-key budgets. Zero or negative values
// fall back to 5 requests per minute.
func New(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		max:     max,
		window:  window,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow checks key against the default budgets.
func (l *Limiter) Allow(key string) bool {
	return l.AllowLimit(key, l.max, l.window)
}

// AllowLimit checks key against an explicit budget, pruning entries older
// than the window first. Returns false when the key is at capacity.
func (l *Limiter) AllowLimit(key string, max int, window time.Duration) bool {
	if max <= 0 {
		max = l.max
	}
	if window <= 0 {
		window = l.window
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.history[key][:0]
	for _, ts := range l.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= max {
		l.history[key] = kept
		return false
	}

	l.history[key] = append(kept, now)
	return true
}

// Clear drops the history for one key.
func (l *Limiter) Clear(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.history, key)
}

// ClearAll drops all recorded history.
func (l *Limiter) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = make(map[string][]time.Time)
}

// Keys returns the keys with recorded history, for administrative display.
func (l *Limiter) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.history))
	for k := range l.history {
		keys = append(keys, k)
	}
	return keys
}
