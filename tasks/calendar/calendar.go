package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/robfig/cron/v3"

	"tickrun/internal/eventbus"
	"tickrun/internal/isr"
	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

const defaultPoll = 250 * time.Millisecond

// EventType is published each time an agenda entry comes due.
const EventType = "calendar.fire"

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Entry is one named agenda item.
type Entry struct {
	Name string
	Spec string
	Note string

	schedule cron.Schedule
}

// ParseEntry validates the spec and compiles its schedule.
func ParseEntry(name, spec, note string) (Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Entry{}, errors.New("calendar entry needs a name")
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return Entry{}, fmt.Errorf("calendar entry %q: %w", name, err)
	}
	return Entry{Name: name, Spec: spec, Note: note, schedule: schedule}, nil
}

// Next reports the entry's first activation strictly after from. Zero
// means the spec never activates again.
func (e Entry) Next(from time.Time) time.Time {
	if e.schedule == nil {
		return time.Time{}
	}
	return e.schedule.Next(from)
}

// Fire is the bus payload when an entry comes due.
type Fire struct {
	Name string    `json:"name"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
	Next time.Time `json:"next"`
}

// Config carries a full replacement agenda.
type Config struct {
	Poll    sched.Tick
	Entries []Entry
}

// agendaKey orders the agenda by activation time; seq breaks ties so
// entries due the same instant keep distinct tree nodes.
type agendaKey struct {
	at  int64 // UnixNano
	seq uint64
}

func agendaCmp(a, b any) int {
	ka, kb := a.(agendaKey), b.(agendaKey)
	switch {
	case ka.at < kb.at:
		return -1
	case ka.at > kb.at:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// Task bridges wall-clock cron schedules onto the tick loop. Every poll
// period it pops agenda entries whose activation time has passed, fires
// each once, and reinserts it at its next activation; occurrences missed
// while the process slept coalesce into that single fire.
type Task struct {
	sched.TimedTask

	poll    sched.Tick
	agenda  *redblacktree.Tree
	seq     uint64
	nowFn   func() time.Time
	bus     eventbus.Bus
	log     logx.Logger
	updates isr.Mailbox[Config]

	fired uint64
}

// New arms the task at start. The initial agenda is built on the first
// run, against the same clock later fires are judged by.
func New(cfg Config, start sched.Tick, bus eventbus.Bus, log logx.Logger) *Task {
	t := &Task{
		TimedTask: sched.TimedAt(start),
		poll:      cfg.Poll,
		agenda:    redblacktree.NewWith(agendaCmp),
		nowFn:     time.Now,
		bus:       bus,
		log:       log,
	}
	if t.poll == 0 {
		t.poll = sched.Ticks(defaultPoll)
	}
	t.updates.Post(cfg)
	return t
}

func (t *Task) Name() string { return "calendar" }

// Update posts a replacement agenda for the task to fold in at its next
// run. Safe from any goroutine.
func (t *Task) Update(cfg Config) { t.updates.Post(cfg) }

// Fired reports total fires. Owner goroutine only.
func (t *Task) Fired() uint64 { return t.fired }

// Scheduled reports agenda entries currently armed. Owner goroutine only.
func (t *Task) Scheduled() int { return t.agenda.Size() }

func (t *Task) Run(now sched.Tick) {
	wall := t.nowFn()

	if cfg, ok := t.updates.Take(); ok {
		t.apply(cfg, wall)
	}

	cutoff := wall.UnixNano()
	for {
		node := t.agenda.Left()
		if node == nil {
			break
		}
		key := node.Key.(agendaKey)
		if key.at > cutoff {
			break
		}
		entry := node.Value.(Entry)
		t.agenda.Remove(key)
		t.fire(entry, wall)
	}

	t.IncRunTime(t.poll)
}

func (t *Task) apply(cfg Config, wall time.Time) {
	if cfg.Poll > 0 && cfg.Poll != t.poll {
		t.poll = cfg.Poll
		t.log.Info("calendar poll changed", logx.Uint32("poll_ticks", uint32(cfg.Poll)))
	}
	t.agenda.Clear()
	for _, e := range cfg.Entries {
		t.insert(e, wall)
	}
	t.log.Info("calendar agenda rebuilt", logx.Int("entries", t.agenda.Size()))
}

func (t *Task) insert(e Entry, after time.Time) { t.insertAt(e, e.Next(after)) }

func (t *Task) insertAt(e Entry, next time.Time) {
	if next.IsZero() {
		t.log.Warn("calendar entry never activates, dropping",
			logx.String("entry", e.Name),
			logx.String("spec", e.Spec),
		)
		return
	}
	t.seq++
	t.agenda.Put(agendaKey{at: next.UnixNano(), seq: t.seq}, e)
}

func (t *Task) fire(e Entry, wall time.Time) {
	t.fired++
	next := e.Next(wall)

	t.log.Info("calendar fire",
		logx.String("entry", e.Name),
		logx.String("note", e.Note),
		logx.Time("next", next),
	)
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: EventType, Data: Fire{
			Name: e.Name,
			Note: e.Note,
			At:   wall,
			Next: next,
		}})
	}
	t.insertAt(e, next)
}
