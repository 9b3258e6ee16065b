package dedup

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sigrelay/internal/eventbus"
	logx "sigrelay/pkg/logx"
)

// Janitor runs Cache.Sweep on a fixed "@every" schedule.
type Janitor struct {
	cache    *Cache
	interval time.Duration
	log      logx.Logger
	bus      eventbus.Bus

	mu sync.Mutex
	c  *cron.Cron
}

func NewJanitor(cache *Cache, interval time.Duration, log logx.Logger, bus eventbus.Bus) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Janitor{cache: cache, interval: interval, log: log.With(logx.String("comp", "dedup")), bus: bus}
}

// Start registers the sweep and starts the cron runner. Calling Start twice is a no-op.
func (j *Janitor) Start() error {
	if j == nil || j.cache == nil {
		return errors.New("dedup: janitor has no cache")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.c != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", j.interval.String())
	if _, err := c.AddFunc(spec, func() { j.RunOnce(time.Now()) }); err != nil {
		return fmt.Errorf("dedup: schedule sweep: %w", err)
	}
	c.Start()
	j.c = c
	j.log.Info("dedup janitor started", logx.Duration("interval", j.interval), logx.Duration("retention", j.cache.Retention()))
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (j *Janitor) Stop() {
	if j == nil {
		return
	}
	j.mu.Lock()
	c := j.c
	j.c = nil
	j.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce performs one sweep and reports the number of evicted keys.
func (j *Janitor) RunOnce(now time.Time) int {
	n := j.cache.Sweep(now)
	j.log.Info("dedup sweep", logx.Int("removed", n), logx.Int("remaining", j.cache.Len()))
	if j.bus != nil {
		j.bus.Publish(eventbus.Event{Type: eventbus.TypeDedupSwept, Time: now, Data: n})
	}
	return n
}
