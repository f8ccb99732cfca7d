package sched

import (
	"sync/atomic"
	"time"
)

// Clock is the dispatch loop's time source. Now must be cheap: the loop
// calls it once per scan, millions of times per second when idle.
type Clock interface {
	Now() Tick
}

// WallClock counts milliseconds since construction using the monotonic
// reading inside time.Since. The production time source.
type WallClock struct {
	start time.Time
}

func NewWallClock() *WallClock { return &WallClock{start: time.Now()} }

func (c *WallClock) Now() Tick { return Ticks(time.Since(c.start)) }

// ManualClock is a hand-driven clock for tests and simulation. It only
// moves when told to, and is safe to advance from a goroutine other than
// the one running the loop.
type ManualClock struct {
	cur atomic.Uint32
}

func NewManualClock(start Tick) *ManualClock {
	c := &ManualClock{}
	c.cur.Store(uint32(start))
	return c
}

func (c *ManualClock) Now() Tick { return Tick(c.cur.Load()) }

func (c *ManualClock) Set(t Tick) { c.cur.Store(uint32(t)) }

// Advance moves the clock forward by d ticks and returns the new reading.
func (c *ManualClock) Advance(d Tick) Tick { return Tick(c.cur.Add(uint32(d))) }
