package isr

import "sync/atomic"

// Latch is a one-bit event flag. Any goroutine may Set it; the owning task
// peeks with Pending from CanRun and consumes with Take from Run. Multiple
// Sets before a Take collapse into one event.
type Latch struct {
	v atomic.Uint32
}

func (l *Latch) Set() { l.v.Store(1) }

// Pending reports the flag without clearing it. Safe for CanRun.
func (l *Latch) Pending() bool { return l.v.Load() != 0 }

// Take clears the flag and reports whether it was set.
func (l *Latch) Take() bool { return l.v.Swap(0) != 0 }

// Counter accumulates events where the count matters, e.g. overruns since
// the last run. Any goroutine may Add; the owning task drains with Take.
type Counter struct {
	v atomic.Uint64
}

func (c *Counter) Add(n uint64) { c.v.Add(n) }

// Take returns the accumulated count and resets it to zero.
func (c *Counter) Take() uint64 { return c.v.Swap(0) }

// Load reads the count without resetting. Safe for CanRun and snapshots.
func (c *Counter) Load() uint64 { return c.v.Load() }
