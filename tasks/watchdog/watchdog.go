package watchdog

import (
	"time"

	"tickrun/internal/sched"
	"tickrun/pkg/logx"
	"tickrun/pkg/sdnotify"
)

// NotifyFunc sends one state string to the service manager.
type NotifyFunc func(state string) (bool, error)

// Task kicks the systemd watchdog. It sits in slot 0, so the kick happens
// whenever the loop is scanning at all; a wedged task starves the kick and
// the unit's watchdog converts that into a supervised restart.
type Task struct {
	sched.TimedTask

	period sched.Tick
	notify NotifyFunc
	log    logx.Logger

	// owner-goroutine counters; tests read them between steps
	kicks    uint64
	failures uint64
}

// New builds the kicker. interval is the unit's WatchdogSec; the task
// fires at half that so one late dispatch does not expire the timer.
// A nil notify uses the real notify socket.
func New(interval time.Duration, notify NotifyFunc, start sched.Tick, log logx.Logger) *Task {
	if notify == nil {
		notify = sdnotify.Notify
	}
	t := &Task{
		TimedTask: sched.TimedAt(start),
		period:    sched.Ticks(interval / 2),
		notify:    notify,
		log:       log,
	}
	if t.period == 0 {
		t.period = 1
	}
	return t
}

func (t *Task) Name() string { return "watchdog" }

// Period returns the kick period in ticks.
func (t *Task) Period() sched.Tick { return t.period }

// Kicks reports successful kicks. Owner goroutine only.
func (t *Task) Kicks() uint64 { return t.kicks }

func (t *Task) Run(now sched.Tick) {
	if _, err := t.notify(sdnotify.Watchdog); err != nil {
		t.failures++
		t.log.Warn("watchdog kick failed", logx.Err(err))
	} else {
		t.kicks++
	}
	t.IncRunTime(t.period)
}
