package serial

import (
	"time"

	"golang.org/x/time/rate"

	"tickrun/internal/eventbus"
	"tickrun/internal/isr"
	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

const (
	defaultMaxPerRun = 64

	// maxLineBytes bounds line assembly; longer lines are emitted
	// truncated so a newline-free stream cannot grow memory.
	maxLineBytes = 256
)

// EventType is published for each assembled line.
const EventType = "serial.line"

// Line is the bus payload for one assembled line.
type Line struct {
	Text      string     `json:"text"`
	Tick      sched.Tick `json:"tick"`
	Truncated bool       `json:"truncated,omitempty"`
}

// Config is the assembler's hot-reloadable knob set.
type Config struct {
	MaxPerRun int // drain budget per dispatch
}

// Task drains the RX ring and assembles newline-terminated lines. CanRun
// is a ring-length peek; Run consumes at most MaxPerRun bytes, so a byte
// flood turns into many short runs instead of one long one and lower
// slots still get scanned between them.
type Task struct {
	rx        *isr.Ring
	overruns  isr.Counter
	maxPerRun int
	line      []byte
	truncated bool
	updates   isr.Mailbox[Config]
	bus       eventbus.Bus
	log       logx.Logger
	warnLim   *rate.Limiter

	// owner-goroutine counters
	lines   uint64
	dropped uint64
}

func New(rx *isr.Ring, cfg Config, bus eventbus.Bus, log logx.Logger) *Task {
	t := &Task{
		rx:        rx,
		maxPerRun: cfg.MaxPerRun,
		line:      make([]byte, 0, maxLineBytes),
		bus:       bus,
		log:       log,
		warnLim:   rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	if t.maxPerRun <= 0 {
		t.maxPerRun = defaultMaxPerRun
	}
	return t
}

func (t *Task) Name() string { return "serial" }

func (t *Task) CanRun(now sched.Tick) bool { return t.rx.Len() > 0 }

// Update posts a new config for the task to fold in at its next run.
// Safe from any goroutine.
func (t *Task) Update(cfg Config) { t.updates.Post(cfg) }

// Overruns is the drop tally the feeder side adds to when the RX ring
// overflows. The task drains it each run and reports the loss.
func (t *Task) Overruns() *isr.Counter { return &t.overruns }

// Lines reports assembled lines. Owner goroutine only.
func (t *Task) Lines() uint64 { return t.lines }

func (t *Task) Run(now sched.Tick) {
	if cfg, ok := t.updates.Take(); ok && cfg.MaxPerRun > 0 {
		t.maxPerRun = cfg.MaxPerRun
	}

	if n := t.overruns.Take(); n > 0 {
		t.dropped += n
		if t.warnLim.Allow() {
			t.log.Warn("rx overrun",
				logx.Uint64("dropped", t.dropped),
				logx.Uint32("tick", uint32(now)),
			)
			t.dropped = 0
		}
	}

	for n := 0; n < t.maxPerRun; n++ {
		b, ok := t.rx.Get()
		if !ok {
			return
		}
		switch {
		case b == '\n':
			t.emit(now)
		case b == '\r':
			// swallow; CRLF and LF streams both end lines at '\n'
		case len(t.line) >= maxLineBytes:
			t.truncated = true
		default:
			t.line = append(t.line, b)
		}
	}
}

func (t *Task) emit(now sched.Tick) {
	text := string(t.line)
	t.line = t.line[:0]
	truncated := t.truncated
	t.truncated = false

	if text == "" && !truncated {
		return // bare newline
	}
	t.lines++

	t.log.Info("serial line",
		logx.String("text", text),
		logx.Bool("truncated", truncated),
		logx.Uint32("tick", uint32(now)),
	)
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: EventType, Data: Line{
			Text:      text,
			Tick:      now,
			Truncated: truncated,
		}})
	}
}
