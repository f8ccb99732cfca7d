package sched

import "fmt"

// Task is the unit of scheduling.
//
// CanRun is polled every scan with the scan's tick reading. It must be
// cheap and free of side effects; peeking at a flag or comparing a tick is
// the intended weight class.
//
// Run performs one bounded burst of work and returns. It runs on the
// dispatch goroutine with nothing above it, so anything that blocks here
// blocks every task. Rescheduling (for timed tasks) happens inside Run.
type Task interface {
	CanRun(now Tick) bool
	Run(now Tick)
}

// Namer is optionally implemented by tasks that want a stable name in
// logs, traces and snapshots instead of a generated slot label.
type Namer interface {
	Name() string
}

func taskName(slot int, t Task) string {
	if n, ok := t.(Namer); ok {
		if s := n.Name(); s != "" {
			return s
		}
	}
	return fmt.Sprintf("slot%02d", slot)
}
