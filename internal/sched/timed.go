package sched

// TimedTask is an embeddable base for tasks that fire at an absolute tick.
// It supplies the wraparound-safe CanRun gate; the embedding type provides
// Run and re-arms itself from inside it.
//
// runAt is read by the dispatch loop and written only by the owning task's
// Run, which the single-dispatch loop serializes. Other goroutines must
// not touch it.
type TimedTask struct {
	runAt Tick
}

// TimedAt returns a TimedTask armed for the given tick. A start of 0 with
// a fresh WallClock means "ready on the first scan".
func TimedAt(when Tick) TimedTask { return TimedTask{runAt: when} }

func (t *TimedTask) CanRun(now Tick) bool { return t.runAt.Reached(now) }

// SetRunTime arms the task for an absolute tick.
func (t *TimedTask) SetRunTime(when Tick) { t.runAt = when }

// IncRunTime advances the run time relative to its previous value. Periodic
// tasks re-arm with this so the period is anchored to the original schedule
// rather than to however late the current run fired; lateness never
// accumulates.
func (t *TimedTask) IncRunTime(delta Tick) { t.runAt += delta }

// RunTime returns the currently armed tick.
func (t *TimedTask) RunTime() Tick { return t.runAt }
