package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tickrun/internal/eventbus"
	"tickrun/pkg/logx"
)

// ErrAlreadyRunning is returned by Run when the dispatch loop is already
// active on another goroutine.
var ErrAlreadyRunning = errors.New("sched: dispatch loop already running")

const (
	defaultWarnAfter = 20 * time.Millisecond
	defaultTraceRate = 200 // sampled dispatch events per second
)

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithBus attaches an event bus; the scheduler publishes sampled dispatch
// events and unsampled fault events onto it.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithWarnAfter sets the promptness budget. A Run taking at least this long
// logs a rate-limited warning. Zero or negative keeps the default.
func WithWarnAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.warnAfter = d
		}
	}
}

// WithTraceRate caps dispatch-event publication in events per second.
// Zero or negative keeps the default.
func WithTraceRate(perSec int) Option {
	return func(s *Scheduler) {
		if perSec > 0 {
			s.traceRate = perSec
		}
	}
}

type slotState struct {
	task Task
	name string

	dispatches atomic.Uint64
	faults     atomic.Uint64
	lastTick   atomic.Uint32
	lastDur    atomic.Int64
	totalDur   atomic.Int64
}

// Scheduler walks an immutable, priority-ordered task list. Slot index is
// priority; slot 0 is highest. See the package doc for the model.
type Scheduler struct {
	clock Clock
	slots []*slotState

	log logx.Logger
	bus eventbus.Bus

	warnAfter time.Duration
	traceRate int

	warnLim  *rate.Limiter
	faultLim *rate.Limiter
	traceLim *rate.Limiter

	running atomic.Bool
	scans   atomic.Uint64
	idles   atomic.Uint64
}

// New builds a scheduler over tasks. The slice is copied; the task set and
// its priority order are fixed for the scheduler's lifetime. An empty set
// is valid: the loop runs and never dispatches.
func New(clock Clock, tasks []Task, opts ...Option) *Scheduler {
	if clock == nil {
		clock = NewWallClock()
	}
	s := &Scheduler{
		clock:     clock,
		log:       logx.Nop(),
		warnAfter: defaultWarnAfter,
		traceRate: defaultTraceRate,
	}
	s.slots = make([]*slotState, len(tasks))
	for i, t := range tasks {
		s.slots[i] = &slotState{task: t, name: taskName(i, t)}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	// Warnings and fault logs are rate-limited so a wedged task cannot turn
	// the log into the bottleneck it is reporting on.
	s.warnLim = rate.NewLimiter(rate.Every(5*time.Second), 3)
	s.faultLim = rate.NewLimiter(rate.Every(time.Second), 5)
	s.traceLim = rate.NewLimiter(rate.Limit(s.traceRate), s.traceRate)
	return s
}

// Tasks returns the number of slots.
func (s *Scheduler) Tasks() int { return len(s.slots) }

// Step performs one scan: slots are polled from the top and the first
// ready task runs with the given tick reading. At most one task runs per
// scan; after a dispatch the next scan starts from slot 0 again, so a
// ready high-priority task always goes before a lower slot's second turn.
//
// Returns the slot that ran, or (-1, false) for an idle scan.
func (s *Scheduler) Step(now Tick) (slot int, dispatched bool) {
	s.scans.Add(1)
	for i, sl := range s.slots {
		if !sl.task.CanRun(now) {
			continue
		}
		s.dispatch(i, sl, now)
		return i, true
	}
	s.idles.Add(1)
	return -1, false
}

// Run drives Step until ctx is cancelled. The loop never sleeps: a ready
// task dispatches immediately, an idle scan yields the processor and polls
// again. Cancellation is the only exit; Run returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.log.Info("dispatch loop started",
		logx.Int("tasks", len(s.slots)),
		logx.Uint32("tick", uint32(s.clock.Now())),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("dispatch loop stopped",
				logx.Uint64("scans", s.scans.Load()),
				logx.Uint32("tick", uint32(s.clock.Now())),
			)
			return ctx.Err()
		default:
		}

		if _, ok := s.Step(s.clock.Now()); !ok {
			// Nothing ready. Donate the timeslice so the host OS is not
			// pinned by a hot spin, then poll again.
			runtime.Gosched()
		}
	}
}

func (s *Scheduler) dispatch(slot int, sl *slotState, now Tick) {
	start := time.Now()
	fault := s.runGuarded(slot, sl, now)
	dur := time.Since(start)

	sl.dispatches.Add(1)
	sl.lastTick.Store(uint32(now))
	sl.lastDur.Store(int64(dur))
	sl.totalDur.Add(int64(dur))

	if fault == "" && dur >= s.warnAfter && s.warnLim.Allow() {
		s.log.Warn("task overran its budget",
			logx.Int("slot", slot),
			logx.String("task", sl.name),
			logx.Duration("took", dur),
			logx.Duration("budget", s.warnAfter),
		)
	}

	if s.bus == nil {
		return
	}
	typ := EventDispatch
	if fault != "" {
		typ = EventFault
	} else if !s.traceLim.Allow() {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: DispatchEvent{
			Slot:  slot,
			Task:  sl.name,
			Tick:  now,
			Dur:   dur,
			Fault: fault != "",
			Err:   fault,
		},
	})
}

// runGuarded invokes Run and converts a panic into a counted per-slot
// fault so one misbehaving task cannot take the loop down. Returns the
// panic text, "" on success.
func (s *Scheduler) runGuarded(slot int, sl *slotState, now Tick) (fault string) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Sprint(r)
			sl.faults.Add(1)
			if s.faultLim.Allow() {
				s.log.Error("task panicked",
					logx.Int("slot", slot),
					logx.String("task", sl.name),
					logx.Uint32("tick", uint32(now)),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}
	}()
	sl.task.Run(now)
	return ""
}
