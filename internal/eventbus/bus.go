package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a small in-process notification. The dispatch loop publishes
// one per sampled dispatch and per fault; tasks publish their own types
// such as serial lines and calendar fires. Sinks like the trace recorder
// and the debug log tail consume them off buffered channels.
//
// Keep Data small. Payloads may end up serialized into the trace
// journal or the diagnostics API.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Stats counts bus traffic since the bus was created. Dropped is
// counted per delivery attempt, so one event offered to two full
// subscribers raises it by two.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Bus fans events out without ever blocking the publisher. Publish is
// called from the scheduler's loop goroutine, so a wedged subscriber
// must cost at most a dropped event, never a stalled tick.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Stats() Stats
}

// New returns an in-memory bus. It starts no goroutines; delivery
// happens inline on the publisher's stack.
func New() Bus {
	b := &fanout{}
	b.subs.Store(&[]*subscriber{})
	return b
}

// subscriber pairs a delivery channel with a closed flag so Publish
// can skip channels an unsubscribe has already shut.
type subscriber struct {
	ch     chan Event
	closed atomic.Bool
}

// fanout keeps the subscriber set in an immutable slice behind an
// atomic pointer. Publish loads the slice without locking; Subscribe
// and unsubscribe copy-on-write under mu. Readers stay lock-free,
// writers are rare and pay for the copy.
type fanout struct {
	mu   sync.Mutex // serializes copy-on-write updates of subs
	subs atomic.Pointer[[]*subscriber]

	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	for _, s := range *b.subs.Load() {
		if s.closed.Load() {
			continue
		}
		b.offer(s, e)
	}
}

// offer makes one non-blocking send. The closed check in Publish races
// with unsubscribe, so a send can still hit a closed channel; the
// recover turns that into a counted drop.
func (b *fanout) offer(s *subscriber, e Event) {
	defer func() {
		if recover() != nil {
			b.dropped.Add(1)
		}
	}()
	select {
	case s.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	old := *b.subs.Load()
	next := make([]*subscriber, len(old)+1)
	copy(next, old)
	next[len(old)] = s
	b.subs.Store(&next)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() { b.remove(s) })
	}
	return s.ch, unsub
}

func (b *fanout) remove(s *subscriber) {
	b.mu.Lock()
	old := *b.subs.Load()
	next := make([]*subscriber, 0, len(old))
	for _, cur := range old {
		if cur != s {
			next = append(next, cur)
		}
	}
	b.subs.Store(&next)
	b.mu.Unlock()

	// Mark before closing so in-flight Publishes skip the channel; the
	// recover in offer covers sends that already passed the check.
	s.closed.Store(true)
	close(s.ch)
}

func (b *fanout) Stats() Stats {
	return Stats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: len(*b.subs.Load()),
	}
}
