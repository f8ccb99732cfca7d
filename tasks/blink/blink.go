package blink

import (
	"sync/atomic"
	"time"

	"tickrun/internal/isr"
	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

const defaultPeriod = 500 * time.Millisecond

// Pin is the output the blinker drives. Set runs on the dispatch
// goroutine, so implementations must be cheap and must not block.
type Pin interface {
	Set(on bool)
}

// SimPin counts transitions instead of driving hardware; the host-run
// stand-in for a GPIO line.
type SimPin struct {
	on      atomic.Bool
	toggles atomic.Uint64
}

func (p *SimPin) Set(on bool) {
	p.on.Store(on)
	p.toggles.Add(1)
}

func (p *SimPin) On() bool        { return p.on.Load() }
func (p *SimPin) Toggles() uint64 { return p.toggles.Load() }

// Config is the blinker's hot-reloadable knob set.
type Config struct {
	Period sched.Tick // half-cycle: ticks between toggles
}

// Task toggles pin every Period ticks. Re-arming goes through IncRunTime,
// so dispatch lateness never accumulates into phase drift.
type Task struct {
	sched.TimedTask

	pin     Pin
	period  sched.Tick
	on      bool
	updates isr.Mailbox[Config]
	log     logx.Logger
}

func New(pin Pin, cfg Config, start sched.Tick, log logx.Logger) *Task {
	t := &Task{
		TimedTask: sched.TimedAt(start),
		pin:       pin,
		period:    cfg.Period,
		log:       log,
	}
	if t.period == 0 {
		t.period = sched.Ticks(defaultPeriod)
	}
	return t
}

func (t *Task) Name() string { return "blink" }

// Update posts a new config for the task to fold in at its next run.
// Safe from any goroutine.
func (t *Task) Update(cfg Config) { t.updates.Post(cfg) }

// Period returns the active half-cycle. Owner goroutine only.
func (t *Task) Period() sched.Tick { return t.period }

func (t *Task) Run(now sched.Tick) {
	if cfg, ok := t.updates.Take(); ok && cfg.Period > 0 && cfg.Period != t.period {
		t.period = cfg.Period
		t.log.Info("blink period changed", logx.Uint32("period_ticks", uint32(cfg.Period)))
	}

	t.on = !t.on
	t.pin.Set(t.on)
	t.IncRunTime(t.period)
}
