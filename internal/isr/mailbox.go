package isr

import "sync/atomic"

// Mailbox hands the latest value of T to a task without locks. Any
// goroutine may Post; each Post replaces whatever was there. The owning
// task collects with Take, typically at the top of Run. Intermediate
// values lost to overwrites are by contract uninteresting: only the newest
// matters (config updates, latest sensor reading).
type Mailbox[T any] struct {
	p atomic.Pointer[T]
}

// Post publishes v, replacing any unconsumed value.
func (m *Mailbox[T]) Post(v T) { m.p.Store(&v) }

// Take removes and returns the pending value, if any.
func (m *Mailbox[T]) Take() (T, bool) {
	p := m.p.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Pending reports whether a value is waiting. Safe for CanRun.
func (m *Mailbox[T]) Pending() bool { return m.p.Load() != nil }
