package sched

import "time"

// TickInterval is the real-time width of one tick.
const TickInterval = time.Millisecond

// Tick is a reading of the free-running scheduler counter. It wraps at
// 2^32; all ordering decisions must go through Reached rather than a
// direct comparison.
type Tick uint32

// Reached reports whether now has reached or passed t, modulo wraparound.
// The signed reading of the unsigned delta keeps the answer correct across
// the wrap: tick 0x00000002 is "after" 0xFFFFFFF0 even though it is
// numerically smaller. Targets must sit within half the counter range.
func (t Tick) Reached(now Tick) bool { return int32(now-t) >= 0 }

// Add returns t advanced by d, modulo wraparound.
func (t Tick) Add(d Tick) Tick { return t + d }

// Ticks converts a wall-clock duration to whole ticks, truncating. Used at
// the config boundary; durations under one tick collapse to zero, so
// callers validating config should reject sub-tick periods.
func Ticks(d time.Duration) Tick { return Tick(d / TickInterval) }

// Duration converts a tick count back to a wall-clock duration.
func (t Tick) Duration() time.Duration { return time.Duration(t) * TickInterval }
