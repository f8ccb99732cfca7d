package heartbeat

import (
	"time"

	"github.com/dustin/go-humanize"

	"tickrun/internal/eventbus"
	"tickrun/internal/isr"
	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

const defaultPeriod = 10 * time.Second

// EventType is published on each beat.
const EventType = "heartbeat.beat"

// Snapshotter is the loop-counter source; in production it is the
// scheduler itself.
type Snapshotter interface {
	Snapshot() sched.Snapshot
}

// Beat is the bus payload for one heartbeat.
type Beat struct {
	Uptime     time.Duration `json:"uptime_ns"`
	Tick       sched.Tick    `json:"tick"`
	Scans      uint64        `json:"scans"`
	Dispatches uint64        `json:"dispatches"`
	Faults     uint64        `json:"faults"`
}

// Config is the heartbeat's hot-reloadable knob set.
type Config struct {
	Period sched.Tick
}

// Task logs one liveness line per period with counter deltas since the
// previous beat and publishes the totals for the diag surface.
type Task struct {
	sched.TimedTask

	src     Snapshotter
	bus     eventbus.Bus
	period  sched.Tick
	started time.Time
	updates isr.Mailbox[Config]
	log     logx.Logger

	lastScans      uint64
	lastDispatches uint64
}

func New(src Snapshotter, bus eventbus.Bus, cfg Config, start sched.Tick, log logx.Logger) *Task {
	t := &Task{
		TimedTask: sched.TimedAt(start),
		src:       src,
		bus:       bus,
		period:    cfg.Period,
		started:   time.Now(),
		log:       log,
	}
	if t.period == 0 {
		t.period = sched.Ticks(defaultPeriod)
	}
	return t
}

func (t *Task) Name() string { return "heartbeat" }

// Update posts a new config for the task to fold in at its next run.
// Safe from any goroutine.
func (t *Task) Update(cfg Config) { t.updates.Post(cfg) }

func (t *Task) Run(now sched.Tick) {
	if cfg, ok := t.updates.Take(); ok && cfg.Period > 0 {
		t.period = cfg.Period
	}

	snap := t.src.Snapshot()
	var dispatches, faults uint64
	for _, sl := range snap.Slots {
		dispatches += sl.Dispatches
		faults += sl.Faults
	}

	scanDelta := snap.Scans - t.lastScans
	dispatchDelta := dispatches - t.lastDispatches
	t.lastScans = snap.Scans
	t.lastDispatches = dispatches

	uptime := time.Since(t.started)
	t.log.Info("heartbeat",
		logx.String("uptime", uptime.Truncate(time.Second).String()),
		logx.Uint32("tick", uint32(snap.Now)),
		logx.String("scans", humanize.Comma(int64(snap.Scans))),
		logx.Uint64("scan_delta", scanDelta),
		logx.Uint64("dispatch_delta", dispatchDelta),
		logx.Uint64("faults", faults),
	)

	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: EventType, Data: Beat{
			Uptime:     uptime,
			Tick:       snap.Now,
			Scans:      snap.Scans,
			Dispatches: dispatches,
			Faults:     faults,
		}})
	}

	t.IncRunTime(t.period)
}
