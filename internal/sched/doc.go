// Package sched implements tickrun's cooperative fixed-priority dispatch
// loop.
//
// # Model
//
// A Scheduler owns an ordered, immutable list of tasks. List position is
// priority: slot 0 is highest. Every scan walks the list from the top and
// runs the FIRST task whose CanRun reports ready, then restarts from the
// top. One scan dispatches at most one task, so a high-priority task that
// becomes ready is always reconsidered before any lower slot gets a second
// turn.
//
// Scheduling is cooperative. Run is expected to do one bounded burst of
// work and return; nothing preempts it, and a stalled Run starves the whole
// loop. The scheduler monitors promptness (rate-limited overrun warnings)
// but cannot enforce it.
//
// # Time
//
// Time is a free-running millisecond Tick counter that wraps around.
// Comparisons go through Tick.Reached, which stays correct across the wrap
// for targets within half the counter range (about 24.8 days at 1ms).
// The loop samples its Clock once per scan and hands the same reading to
// every CanRun in that scan.
//
// # Concurrency
//
// CanRun and Run execute on the single dispatch goroutine. State shared
// with other goroutines (interrupt handlers, config reload, feeders) must
// cross through the primitives in internal/isr; everything else a task owns
// is plain unsynchronized state.
package sched
