package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tickrun/pkg/logx"
)

// Supervisor runs the process's long-lived goroutines (dispatch loop,
// trace recorder, feeders, watchers) under one shared context. Every
// goroutine is named, panic-recovered, and tracked; the first error can
// optionally cancel the whole group.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// started and active are process-wide tallies, separate from the
	// per-name rows in stats.
	started uint64
	active  int64

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // error
	doneOnce    sync.Once
	doneCh      chan struct{}
	wg          sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*runStats
}

type SupervisorOption func(*Supervisor)

// SupervisorCounters exposes best-effort goroutine counters.
// These are operational signals only (not a synchronization primitive).
type SupervisorCounters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// GoroutineStats is one aggregated row of the supervisor's bookkeeping.
// Rows are keyed by goroutine name, so concurrent goroutines sharing a
// name fold into one row. Diagnostics output only.
type GoroutineStats struct {
	Name         string        `json:"name"`
	Active       int64         `json:"active"`
	Started      uint64        `json:"started"`
	Panics       uint64        `json:"panics"`
	LastStartAt  time.Time     `json:"last_start_at"`
	LastStopAt   time.Time     `json:"last_stop_at"`
	LastErrAt    time.Time     `json:"last_err_at"`
	LastErr      string        `json:"last_err,omitempty"`
	LastPanicAt  time.Time     `json:"last_panic_at"`
	LastPanic    string        `json:"last_panic,omitempty"`
	LastRuntime  time.Duration `json:"last_runtime"`
	TotalRuntime time.Duration `json:"total_runtime"`
}

// SupervisorSnapshot is a point-in-time snapshot of a supervisor.
type SupervisorSnapshot struct {
	Counters   SupervisorCounters `json:"counters"`
	FirstError string             `json:"first_error,omitempty"`
	Goroutines []GoroutineStats   `json:"goroutines"`
}

// runStats is the mutable row behind GoroutineStats.
type runStats struct {
	name         string
	active       int64
	started      uint64
	panics       uint64
	lastStartAt  time.Time
	lastStopAt   time.Time
	lastErrAt    time.Time
	lastErr      string
	lastPanicAt  time.Time
	lastPanic    string
	lastRuntime  time.Duration
	totalRuntime time.Duration
}

func (st *runStats) export() GoroutineStats {
	return GoroutineStats{
		Name:         st.name,
		Active:       st.active,
		Started:      st.started,
		Panics:       st.panics,
		LastStartAt:  st.lastStartAt,
		LastStopAt:   st.lastStopAt,
		LastErrAt:    st.lastErrAt,
		LastErr:      st.lastErr,
		LastPanicAt:  st.lastPanicAt,
		LastPanic:    st.lastPanic,
		LastRuntime:  st.lastRuntime,
		TotalRuntime: st.totalRuntime,
	}
}

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil goroutine error cancel the
// supervisor context, taking the rest of the group down with it.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		stats:  map[string]*runStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines
// to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error any goroutine produced, or nil.
func (s *Supervisor) Err() error {
	err, _ := s.firstErr.Load().(error)
	return err
}

// Counters returns the process-wide started/active tallies.
func (s *Supervisor) Counters() SupervisorCounters {
	if s == nil {
		return SupervisorCounters{}
	}
	return SupervisorCounters{
		Active:  atomic.LoadInt64(&s.active),
		Started: atomic.LoadUint64(&s.started),
	}
}

// Snapshot copies the bookkeeping for diagnostics output. Rows sort
// active-first, then most recently started, then by name.
func (s *Supervisor) Snapshot() SupervisorSnapshot {
	if s == nil {
		return SupervisorSnapshot{}
	}
	snap := SupervisorSnapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	rows := make([]GoroutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		if st != nil {
			rows = append(rows, st.export())
		}
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Active != rows[j].Active {
			return rows[i].Active > rows[j].Active
		}
		if !rows[i].LastStartAt.Equal(rows[j].LastStartAt) {
			return rows[i].LastStartAt.After(rows[j].LastStartAt)
		}
		return rows[i].Name < rows[j].Name
	})

	snap.Goroutines = rows
	return snap
}

// record applies one mutation to the named stats row under the lock.
func (s *Supervisor) record(name string, mutate func(*runStats)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.stats == nil {
		s.stats = map[string]*runStats{}
	}
	st, ok := s.stats[name]
	if !ok {
		st = &runStats{name: name}
		s.stats[name] = st
	}
	mutate(st)
	s.mu.Unlock()
}

func (s *Supervisor) noteStart(name string) time.Time {
	now := time.Now()
	s.record(name, func(st *runStats) {
		st.started++
		st.active++
		st.lastStartAt = now
	})
	return now
}

func (s *Supervisor) noteStop(name string, startedAt time.Time, err error) {
	now := time.Now()
	s.record(name, func(st *runStats) {
		if st.active > 0 {
			st.active--
		}
		st.lastStopAt = now
		st.lastRuntime = now.Sub(startedAt)
		st.totalRuntime += now.Sub(startedAt)
		if err != nil {
			st.lastErr = err.Error()
			st.lastErrAt = now
		}
	})
}

func (s *Supervisor) notePanic(name string, p any) {
	now := time.Now()
	s.record(name, func(st *runStats) {
		st.panics++
		st.lastPanicAt = now
		st.lastPanic = fmt.Sprint(p)
	})
}

// Go starts fn under the supervisor context. A context.Canceled return
// counts as a clean exit; any other error (or a panic) is recorded as
// the group's first error and, with WithCancelOnError, cancels the rest.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go s.run(name, fn)
}

// Go0 is Go for functions with nothing to fail on.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) {
	defer s.wg.Done()
	defer atomic.AddInt64(&s.active, -1)

	startedAt := s.noteStart(name)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.notePanic(name, r)
		err := fmt.Errorf("panic in %s: %v", name, r)
		if !s.log.IsZero() {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
		s.noteStop(name, startedAt, err)
		s.fail(err)
	}()

	if !s.log.IsZero() {
		s.log.Debug("goroutine started", logx.String("name", name))
	}

	err := fn(s.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		wrapped := fmt.Errorf("%s: %w", name, err)
		s.noteStop(name, startedAt, wrapped)
		s.fail(wrapped)
	} else {
		s.noteStop(name, startedAt, nil)
	}

	if !s.log.IsZero() {
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}
}

// fail records the first error and cancels the group when configured.
func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels the group and waits like Wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine exits or ctx ends. It returns the
// group's first error once drained, or ctx.Err() on timeout.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}
