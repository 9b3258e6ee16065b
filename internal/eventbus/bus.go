package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the relay.
const (
	TypeSignalForwarded = "signal.forwarded"
	TypeSignalDuplicate = "signal.duplicate"
	TypeDeliverySent    = "delivery.sent"
	TypeDeliveryFailed  = "delivery.failed"
	TypeTenantOnline    = "tenant.online"
	TypeTenantDemoted   = "tenant.demoted"
	TypeLoginFinished   = "login.finished"
	TypeDedupSwept      = "dedup.swept"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type   string
	Time   time.Time
	Tenant int64
	Data   any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock can never race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Counter tallies events by type. It is fed from a subscription and read by /status.
type Counter struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewCounter() *Counter { return &Counter{counts: map[string]uint64{}} }

func (c *Counter) Observe(e Event) {
	c.mu.Lock()
	c.counts[e.Type]++
	c.mu.Unlock()
}

func (c *Counter) Get(typ string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[typ]
}
