package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "sigrelay/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
// - Named goroutines (for logging/debug)
// - Panic recovery
// - Optional cancel-on-first-error
// - Restart loops with bounded exponential backoff
// - Graceful stop with timeout-aware waiting
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	started uint64
	active  int64

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // stores error
	doneOnce    sync.Once
	doneCh      chan struct{}
	wg          sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*taskStats
}

type Option func(*Supervisor)

// Counters exposes best-effort goroutine counters.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// TaskStats is an aggregated view of goroutines started under one name.
type TaskStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastErrAt   time.Time `json:"last_err_at"`
}

// Snapshot is a point-in-time snapshot of a supervisor.
type Snapshot struct {
	Counters   Counters    `json:"counters"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

type taskStats struct {
	active      int64
	restarts    uint64
	panics      uint64
	lastStartAt time.Time
	lastErr     string
	lastErrAt   time.Time
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil error from any goroutine cancel the supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		stats:  map[string]*taskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		Active:  atomic.LoadInt64(&s.active),
		Started: atomic.LoadUint64(&s.started),
	}
}

// Snapshot is intended for /status output, not for synchronization.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for name, st := range s.stats {
		snap.Tasks = append(snap.Tasks, TaskStats{
			Name:        name,
			Active:      st.active,
			Restarts:    st.restarts,
			Panics:      st.panics,
			LastStartAt: st.lastStartAt,
			LastErr:     st.lastErr,
			LastErrAt:   st.lastErrAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

func (s *Supervisor) statsLocked(name string) *taskStats {
	st := s.stats[name]
	if st == nil {
		st = &taskStats{}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.statsLocked(name)
	st.active++
	if restart {
		st.restarts++
	}
	st.lastStartAt = now
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, err error, panicked bool) {
	s.mu.Lock()
	st := s.statsLocked(name)
	if st.active > 0 {
		st.active--
	}
	if panicked {
		st.panics++
	}
	if err != nil {
		st.lastErr = err.Error()
		st.lastErrAt = time.Now()
	}
	s.mu.Unlock()
}

// Go runs fn in a named, panic-safe goroutine bound to the supervisor context.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		s.noteStart(name, false)
		err, pan := runSafe(s.ctx, fn)
		if pan != nil {
			err = fmt.Errorf("panic: %v", pan)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", pan), logx.String("stack", string(debug.Stack())))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err, pan != nil)
			s.setErr(err)
			if s.cancelOnErr {
				s.cancel()
			}
			return
		}
		s.noteStop(name, nil, false)
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func runSafe(ctx context.Context, fn func(ctx context.Context) error) (err error, pan any) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
		}
	}()
	return fn(ctx), nil
}

// RestartOption configures GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int // <=0 means unlimited
	stableAfter time.Duration
	retryIf     func(error) bool
	delayHint   func(error) (time.Duration, bool)
	onGiveUp    func(error)
}

// WithRestartBackoff configures the exponential backoff window used between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts limits consecutive restarts before giving up.
// The initial run is not counted; a run that stays up for the stable window
// resets the count.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// WithStableAfter sets how long a run must last to reset backoff and the restart budget.
func WithStableAfter(d time.Duration) RestartOption {
	return func(c *restartCfg) {
		if d > 0 {
			c.stableAfter = d
		}
	}
}

// WithRetryIf stops the loop (and calls the give-up hook) when fn returns an
// error for which pred reports false.
func WithRetryIf(pred func(error) bool) RestartOption {
	return func(c *restartCfg) { c.retryIf = pred }
}

// WithDelayHint lets an error dictate the next wait (e.g. a server retry-after).
func WithDelayHint(hint func(error) (time.Duration, bool)) RestartOption {
	return func(c *restartCfg) { c.delayHint = hint }
}

// WithGiveUp is called once with the last error when the loop stops retrying.
func WithGiveUp(fn func(error)) RestartOption {
	return func(c *restartCfg) { c.onGiveUp = fn }
}

// GoRestart runs fn and restarts it on error/panic using exponential backoff
// until ctx is canceled, fn returns nil, or a stop condition is hit.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{
		minBackoff:  250 * time.Millisecond,
		maxBackoff:  30 * time.Second,
		stableAfter: 5 * time.Minute,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		ctx := s.ctx
		backoff := cfg.minBackoff
		restarts := 0
		consecutive := 0
		giveUp := func(err error) {
			if cfg.onGiveUp != nil {
				cfg.onGiveUp(err)
			}
		}
		for {
			if ctx.Err() != nil {
				return
			}
			startedAt := s.noteStart(name, restarts > 0)
			err, pan := runSafe(ctx, fn)
			if pan != nil {
				s.log.Error("goroutine panicked (restart)", logx.String("name", name), logx.Any("panic", pan), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", pan)
			}
			// Cancellation (shutdown/removal) is a clean stop.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || err == nil {
				s.noteStop(name, nil, false)
				return
			}
			s.noteStop(name, err, pan != nil)

			if cfg.retryIf != nil && !cfg.retryIf(err) {
				s.log.Warn("goroutine stopped (not retryable)", logx.String("name", name), logx.Err(err))
				giveUp(err)
				return
			}
			// A run that lasted a while resets backoff and budget so rare failures restart fast.
			if time.Since(startedAt) >= cfg.stableAfter {
				backoff = cfg.minBackoff
				consecutive = 0
			}
			restarts++
			consecutive++
			if cfg.maxRestarts > 0 && consecutive > cfg.maxRestarts {
				s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", consecutive-1), logx.Err(err))
				giveUp(err)
				return
			}

			wait := backoff
			if cfg.delayHint != nil {
				if d, ok := cfg.delayHint(err); ok && d > 0 {
					wait = d
				}
			}
			if wait == backoff {
				// 20% jitter on computed waits; server hints are used as-is.
				if j := int64(wait) / 5; j > 0 {
					wait += time.Duration(time.Now().UnixNano() % (j + 1))
				}
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Int("attempt", restarts), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	}()
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
