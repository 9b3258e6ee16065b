// Package delivery sends routed messages over a tenant's session with a
// shared rate limit and per-destination retries.
package delivery

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sigrelay/internal/eventbus"
	"sigrelay/internal/routing"
	logx "sigrelay/pkg/logx"
)

// Sender is the outbound half of a tenant session.
type Sender interface {
	Send(ctx context.Context, dest, text string) error
}

// Service fans a set of deliveries out concurrently. Each destination is
// retried on its own; a failing destination never delays the others.
//
// It is safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	accepting bool

	log logx.Logger
	bus eventbus.Bus

	inflight sync.WaitGroup
	active   atomic.Int64
	sent     atomic.Uint64
	failed   atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log.With(logx.String("comp", "delivery")), bus: bus, accepting: true}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RatePerSec
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 3 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.Burst)
}

// Deliver attempts every delivery concurrently and returns one Result per
// input, in input order. It returns once every attempt has finished.
func (s *Service) Deliver(ctx context.Context, sender Sender, tenantID int64, ds []routing.Delivery) []Result {
	out := make([]Result, len(ds))
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		for i, d := range ds {
			out[i] = Result{Destination: d.Destination, Secondary: d.Secondary, Err: ErrStopped}
		}
		return out
	}
	cfg := s.cfg
	lim := s.limiter
	s.inflight.Add(len(ds))
	s.mu.Unlock()

	var wg sync.WaitGroup
	for i, d := range ds {
		wg.Add(1)
		go func(i int, d routing.Delivery) {
			defer wg.Done()
			defer s.inflight.Done()
			s.active.Add(1)
			defer s.active.Add(-1)
			out[i] = s.sendWithRetry(ctx, cfg, lim, sender, tenantID, d)
		}(i, d)
	}
	wg.Wait()
	return out
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, sender Sender, tenantID int64, d routing.Delivery) Result {
	res := Result{Destination: d.Destination, Secondary: d.Secondary}
	log := s.log.With(logx.Tenant(tenantID), logx.String("dest", d.Destination))
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
retry:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.Send(callCtx, d.Destination, d.Text)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.appendHistory(tenantID, d.Destination, true)
			s.publish(eventbus.TypeDeliverySent, tenantID, d, attempt, nil)
			log.Debug("delivered", logx.Int("attempt", attempt))
			return res
		}
		lastErr = err
		if IsFatal(err) || attempt >= maxAttempts {
			break
		}

		delay, hinted := RetryAfter(err)
		if !hinted {
			delay = retryDelay(cfg, attempt)
		}
		log.Warn("delivery failed, retrying", logx.Int("attempt", attempt), logx.Duration("wait", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break retry
		}
	}

	res.Err = lastErr
	s.failed.Add(1)
	s.appendHistory(tenantID, d.Destination, false)
	s.publish(eventbus.TypeDeliveryFailed, tenantID, d, res.Attempts, lastErr)
	log.Error("delivery failed", logx.Int("attempts", res.Attempts), logx.Err(lastErr))
	return res
}

func (s *Service) publish(typ string, tenantID int64, d routing.Delivery, attempts int, err error) {
	if s.bus == nil {
		return
	}
	ev := Event{Destination: d.Destination, Label: d.Label, Key: d.Key, Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Tenant: tenantID, Data: ev})
}

func (s *Service) appendHistory(tenantID int64, dest string, ok bool) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Tenant: tenantID, Destination: dest, OK: ok})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load(), InFlight: s.active.Load()}
}

// Close stops intake and waits for in-flight deliveries until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
