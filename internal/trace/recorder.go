package trace

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
	"github.com/google/uuid"

	"tickrun/internal/eventbus"
	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

const (
	defaultRingSize = 512
	defaultFlush    = time.Second

	// maxPending bounds the journal batch between flushes. When the
	// journal cannot keep up, the oldest pending records are dropped and
	// counted; the ring still has the newest.
	maxPending = 2048
)

// RecorderOptions tunes the in-memory ring and the journal batching.
type RecorderOptions struct {
	Buffer int           // ring entries, default 512
	Flush  time.Duration // journal batch interval, default 1s
}

// RecorderStats counts recorder traffic since startup.
type RecorderStats struct {
	Session   string `json:"session"`
	Recorded  uint64 `json:"recorded"`
	Persisted uint64 `json:"persisted"`
	Lost      uint64 `json:"lost"`
	RingLen   int    `json:"ring_len"`
	RingCap   int    `json:"ring_cap"`
}

// Recorder drains dispatch events off the bus into a bounded ring and,
// when a Store is attached, batches them into the journal. It owns no
// goroutine itself; the caller runs Run under its supervisor.
type Recorder struct {
	bus     eventbus.Bus
	store   Store // nil means ring-only
	log     logx.Logger
	session Session
	flush   time.Duration
	ringCap int

	mu   sync.Mutex
	ring *circularbuffer.Queue
	pend []Record

	recorded  atomic.Uint64
	persisted atomic.Uint64
	lost      atomic.Uint64
}

// NewRecorder builds a recorder with a fresh session identity. taskNames
// are the slot names in priority order; they end up in the session row.
func NewRecorder(bus eventbus.Bus, store Store, taskNames []string, opts RecorderOptions, log logx.Logger) *Recorder {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultRingSize
	}
	if opts.Flush <= 0 {
		opts.Flush = defaultFlush
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		bus:   bus,
		store: store,
		log:   log,
		session: Session{
			ID:        uuid.NewString(),
			StartedAt: time.Now(),
			Tasks:     strings.Join(taskNames, ","),
		},
		flush:   opts.Flush,
		ringCap: opts.Buffer,
		ring:    circularbuffer.New(opts.Buffer),
	}
}

// Session returns the recorder's run identity.
func (r *Recorder) Session() Session { return r.session }

// Run subscribes to the bus and blocks until ctx ends. The final pending
// batch is flushed on a short grace timeout so shutdown does not lose the
// tail of the journal.
func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(256)
	defer unsub()

	if r.store != nil {
		if err := r.store.BeginSession(ctx, r.session); err != nil {
			return err
		}
	}

	var flushC <-chan time.Time
	if r.store != nil {
		tk := time.NewTicker(r.flush)
		defer tk.Stop()
		flushC = tk.C
	}

	r.log.Debug("trace recorder started",
		logx.String("session", r.session.ID),
		logx.Int("ring", r.ringCap),
		logx.Bool("journal", r.store != nil),
	)
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			r.flushPending(fctx)
			cancel()
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.ingest(ev)
		case <-flushC:
			r.flushPending(ctx)
		}
	}
}

func (r *Recorder) ingest(ev eventbus.Event) {
	de, ok := ev.Data.(sched.DispatchEvent)
	if !ok {
		return
	}
	rec := Record{
		Session: r.session.ID,
		At:      ev.Time,
		Slot:    de.Slot,
		Task:    de.Task,
		Tick:    de.Tick,
		Dur:     de.Dur,
		Fault:   de.Fault,
		Err:     de.Err,
	}

	r.mu.Lock()
	r.ring.Enqueue(rec)
	if r.store != nil {
		r.pend = append(r.pend, rec)
		if over := len(r.pend) - maxPending; over > 0 {
			r.pend = append(r.pend[:0], r.pend[over:]...)
			r.lost.Add(uint64(over))
		}
	}
	r.mu.Unlock()
	r.recorded.Add(1)
}

func (r *Recorder) flushPending(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	batch := r.pend
	r.pend = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if err := r.store.Append(ctx, r.session.ID, batch); err != nil {
		r.lost.Add(uint64(len(batch)))
		r.log.Warn("trace journal write failed",
			logx.Int("records", len(batch)),
			logx.Err(err),
		)
		return
	}
	r.persisted.Add(uint64(len(batch)))
}

// Recent returns up to limit ring records, newest first.
func (r *Recorder) Recent(limit int) []Record {
	r.mu.Lock()
	vals := r.ring.Values()
	r.mu.Unlock()

	// Values is oldest-first; walk backwards.
	if limit <= 0 || limit > len(vals) {
		limit = len(vals)
	}
	out := make([]Record, 0, limit)
	for i := len(vals) - 1; i >= 0 && len(out) < limit; i-- {
		if rec, ok := vals[i].(Record); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	n := r.ring.Size()
	r.mu.Unlock()
	return RecorderStats{
		Session:   r.session.ID,
		Recorded:  r.recorded.Load(),
		Persisted: r.persisted.Load(),
		Lost:      r.lost.Load(),
		RingLen:   n,
		RingCap:   r.ringCap,
	}
}
