// Package dedup holds the shared, time-bounded set of contract addresses that
// were already forwarded.
package dedup

import (
	"sync"
	"time"
)

const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = 24 * time.Hour
)

// Cache maps a dedup key to the time it was first recorded.
// It is safe for concurrent use by every tenant listener.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

type Option func(*Cache)

// WithRetention sets how long a recorded key suppresses repeats.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries:   map[string]time.Time{},
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SeenOrRecord atomically checks key and records it when absent.
// It reports true only for a newly recorded key; callers forward only then.
// An entry older than the retention window counts as absent even before the
// sweep has removed it.
func (c *Cache) SeenOrRecord(key string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if at, ok := c.entries[key]; ok && now.Sub(at) < c.retention {
		return false
	}
	c.entries[key] = now
	return true
}

// Sweep removes every entry older than the retention window and returns how
// many were removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, at := range c.entries {
		if now.Sub(at) >= c.retention {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetRetention changes the window at runtime (config reload).
func (c *Cache) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.retention = d
	c.mu.Unlock()
}

func (c *Cache) Retention() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retention
}
