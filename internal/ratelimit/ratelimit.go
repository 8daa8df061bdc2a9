// Package ratelimit provides a fixed-window request limiter keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of requests allowed per window.
	DefaultLimit = 10
	// DefaultWindow is the width of the counting window.
	DefaultWindow = 60 * time.Second
	// DefaultPruneInterval is how often PruneLoop drops expired entries.
	DefaultPruneInterval = 5 * time.Minute
)

// Limiter reports whether a caller may proceed with a request.
type Limiter interface {
	Allow(key string) bool
}

// FixedWindow counts requests per key inside aligned windows. Counts reset
// when the window containing the current time differs from the one a key was
// last seen in; there is no sliding behavior at window boundaries.
type FixedWindow struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	windowStart time.Time
	count       int
}

// NewFixedWindow creates a limiter allowing limit requests per window.
// Non-positive arguments fall back to the defaults.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &FixedWindow{
		limit:   limit,
		window:  window,
		clock:   time.Now,
		entries: make(map[string]*windowEntry),
	}
}

// Allow records one request for key and reports whether it fits in the
// current window.
func (f *FixedWindow) Allow(key string) bool {
	now := f.clock()
	start := now.Truncate(f.window)

	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.entries[key]
	if !ok || !entry.windowStart.Equal(start) {
		f.entries[key] = &windowEntry{windowStart: start, count: 1}
		return true
	}
	if entry.count >= f.limit {
		return false
	}
	entry.count++
	return true
}

// PruneLoop prunes expired entries at a fixed interval until ctx is
// cancelled. Long-lived limiters keyed by caller-supplied identifiers must
// run it, or the entry map grows with every distinct key ever seen.
// A non-positive interval falls back to the default.
func (f *FixedWindow) PruneLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Prune()
		}
	}
}

// Prune drops entries whose window has passed.
func (f *FixedWindow) Prune() {
	start := f.clock().Truncate(f.window)

	f.mu.Lock()
	defer f.mu.Unlock()

	for key, entry := range f.entries {
		if !entry.windowStart.Equal(start) {
			delete(f.entries, key)
		}
	}
}
