package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sigrelay/internal/eventbus"
	"sigrelay/internal/routing"
	logx "sigrelay/pkg/logx"
)

type scriptedSender struct {
	mu      sync.Mutex
	calls   map[string]int
	script  map[string][]error
	block   map[string]chan struct{}
	entered chan string
}

func newScripted() *scriptedSender {
	return &scriptedSender{calls: map[string]int{}, script: map[string][]error{}, block: map[string]chan struct{}{}}
}

func (f *scriptedSender) Send(ctx context.Context, dest, _ string) error {
	f.mu.Lock()
	n := f.calls[dest]
	f.calls[dest] = n + 1
	var err error
	if s := f.script[dest]; n < len(s) {
		err = s[n]
	}
	b := f.block[dest]
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- dest
	}
	if b != nil {
		select {
		case <-b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *scriptedSender) Calls(dest string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[dest]
}

func fastConfig() Config {
	return Config{RatePerSec: 1000, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, SendTimeout: time.Second}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), logx.Nop(), nil)
	snd := newScripted()
	snd.script["me"] = []error{errors.New("timeout"), errors.New("timeout")}

	res := s.Deliver(context.Background(), snd, 1, []routing.Delivery{{Destination: "me", Text: "x"}})
	if res[0].Err != nil || res[0].Attempts != 3 {
		t.Fatalf("result = %+v, want success on attempt 3", res[0])
	}
	if st := s.Stats(); st.Sent != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDeliverFatalNotRetried(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), logx.Nop(), nil)
	snd := newScripted()
	snd.script["@gone"] = []error{Permanent(errors.New("USERNAME_NOT_OCCUPIED"))}

	res := s.Deliver(context.Background(), snd, 1, []routing.Delivery{{Destination: "@gone", Text: "x"}})
	if !IsFatal(res[0].Err) || snd.Calls("@gone") != 1 {
		t.Fatalf("result = %+v calls=%d, want one fatal attempt", res[0], snd.Calls("@gone"))
	}
}

func TestDeliverRetryBudgetExhausted(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.RetryMax = 2
	s := New(cfg, logx.Nop(), nil)
	snd := newScripted()
	boom := errors.New("boom")
	snd.script["me"] = []error{boom, boom, boom, boom}

	res := s.Deliver(context.Background(), snd, 1, []routing.Delivery{{Destination: "me", Text: "x"}})
	if !errors.Is(res[0].Err, boom) || res[0].Attempts != 3 {
		t.Fatalf("result = %+v, want 3 failed attempts", res[0])
	}
}

func TestDeliverHonoursRetryAfter(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.RetryBase = time.Hour
	cfg.RetryMaxDelay = time.Hour
	s := New(cfg, logx.Nop(), nil)
	snd := newScripted()
	snd.script["me"] = []error{&FloodError{Wait: 5 * time.Millisecond}}

	done := make(chan []Result, 1)
	go func() { done <- s.Deliver(context.Background(), snd, 1, []routing.Delivery{{Destination: "me"}}) }()
	select {
	case res := <-done:
		if res[0].Err != nil || res[0].Attempts != 2 {
			t.Fatalf("result = %+v", res[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("retry-after hint was not used")
	}
}

func TestDeliverDestinationsIndependent(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), logx.Nop(), nil)
	snd := newScripted()
	release := make(chan struct{})
	snd.block["slow"] = release
	snd.entered = make(chan string, 8)

	var finished atomic.Bool
	resCh := make(chan []Result, 1)
	go func() {
		resCh <- s.Deliver(context.Background(), snd, 1, []routing.Delivery{
			{Destination: "slow"},
			{Destination: "fast", Secondary: true},
		})
		finished.Store(true)
	}()

	// Both destinations are attempted while "slow" is still blocked.
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case d := <-snd.entered:
			seen[d] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("destinations not attempted concurrently: %v", seen)
		}
	}
	if finished.Load() {
		t.Fatalf("Deliver returned before slow destination finished")
	}
	close(release)
	res := <-resCh
	if res[0].Destination != "slow" || res[1].Destination != "fast" || !res[1].Secondary {
		t.Fatalf("results out of order: %+v", res)
	}
}

func TestDeliverPublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	cfg := fastConfig()
	cfg.RetryMax = 0
	s := New(cfg, logx.Nop(), bus)
	snd := newScripted()
	snd.script["bad"] = []error{errors.New("x")}

	s.Deliver(context.Background(), snd, 9, []routing.Delivery{{Destination: "ok", Label: "L", Key: "K"}, {Destination: "bad"}})
	got := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			got[ev.Type]++
			if ev.Tenant != 9 {
				t.Fatalf("event tenant = %d", ev.Tenant)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing events: %v", got)
		}
	}
	if got[eventbus.TypeDeliverySent] != 1 || got[eventbus.TypeDeliveryFailed] != 1 {
		t.Fatalf("events = %v", got)
	}
}

func TestCloseRejectsNewAndDrains(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), logx.Nop(), nil)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	res := s.Deliver(context.Background(), newScripted(), 1, []routing.Delivery{{Destination: "me"}})
	if !errors.Is(res[0].Err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", res[0].Err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d delay %s out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %s outside jitter window", d)
	}
}
