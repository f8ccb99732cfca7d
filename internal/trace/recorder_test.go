package trace

import (
	"context"
	"testing"
	"time"

	"tickrun/internal/eventbus"
	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func publishDispatch(bus eventbus.Bus, slot int, task string, tick sched.Tick, fault bool) {
	typ := sched.EventDispatch
	errStr := ""
	if fault {
		typ = sched.EventFault
		errStr = "boom"
	}
	bus.Publish(eventbus.Event{
		Type: typ,
		Data: sched.DispatchEvent{
			Slot: slot, Task: task, Tick: tick,
			Dur: 42 * time.Microsecond, Fault: fault, Err: errStr,
		},
	})
}

func TestRecorderCapturesDispatches(t *testing.T) {
	bus := eventbus.New()
	rec := NewRecorder(bus, nil, []string{"a", "b"}, RecorderOptions{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = rec.Run(ctx) }()

	waitFor(t, "subscription", func() bool { return bus.Stats().Subscribers == 1 })
	for i := 0; i < 5; i++ {
		publishDispatch(bus, i%2, "a", sched.Tick(i), false)
	}
	waitFor(t, "5 records", func() bool { return rec.Stats().Recorded == 5 })

	recent := rec.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) = %d records", len(recent))
	}
	// newest first
	if recent[0].Tick != 4 || recent[2].Tick != 2 {
		t.Fatalf("Recent order wrong: ticks %d,%d,%d", recent[0].Tick, recent[1].Tick, recent[2].Tick)
	}
	if recent[0].Session != rec.Session().ID {
		t.Fatalf("record session = %q, want %q", recent[0].Session, rec.Session().ID)
	}

	cancel()
	<-done
}

func TestRecorderRingBounded(t *testing.T) {
	bus := eventbus.New()
	rec := NewRecorder(bus, nil, nil, RecorderOptions{Buffer: 8}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = rec.Run(ctx) }()

	waitFor(t, "subscription", func() bool { return bus.Stats().Subscribers == 1 })
	for i := 0; i < 20; i++ {
		publishDispatch(bus, 0, "x", sched.Tick(i), false)
	}
	waitFor(t, "20 records", func() bool { return rec.Stats().Recorded == 20 })

	all := rec.Recent(0)
	if len(all) != 8 {
		t.Fatalf("ring kept %d records, want 8", len(all))
	}
	if all[0].Tick != 19 || all[7].Tick != 12 {
		t.Fatalf("ring should keep the newest 8: got %d..%d", all[0].Tick, all[7].Tick)
	}
	if st := rec.Stats(); st.RingLen != 8 || st.RingCap != 8 {
		t.Fatalf("stats = %+v", st)
	}

	cancel()
	<-done
}

func TestRecorderIgnoresForeignEvents(t *testing.T) {
	bus := eventbus.New()
	rec := NewRecorder(bus, nil, nil, RecorderOptions{}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = rec.Run(ctx) }()

	waitFor(t, "subscription", func() bool { return bus.Stats().Subscribers == 1 })
	bus.Publish(eventbus.Event{Type: "config.reload", Data: "not a dispatch"})
	publishDispatch(bus, 0, "x", 1, false)
	waitFor(t, "1 record", func() bool { return rec.Stats().Recorded == 1 })

	if n := len(rec.Recent(0)); n != 1 {
		t.Fatalf("ring has %d records, want 1", n)
	}

	cancel()
	<-done
}

func TestRecorderJournalsOnShutdown(t *testing.T) {
	store, err := Open(Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	bus := eventbus.New()
	rec := NewRecorder(bus, store, []string{"x"}, RecorderOptions{Flush: time.Hour}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = rec.Run(ctx) }()

	waitFor(t, "subscription", func() bool { return bus.Stats().Subscribers == 1 })
	publishDispatch(bus, 0, "x", 7, false)
	publishDispatch(bus, 0, "x", 8, true)
	waitFor(t, "2 records", func() bool { return rec.Stats().Recorded == 2 })

	// Flush interval is an hour; shutdown must drain the pending batch.
	cancel()
	<-done

	recs, err := store.Records(context.Background(), rec.Session().ID, 10)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("journal has %d records, want 2", len(recs))
	}
	if !recs[0].Fault || recs[0].Err != "boom" {
		t.Fatalf("newest record should be the fault: %+v", recs[0])
	}
	if st := rec.Stats(); st.Persisted != 2 || st.Lost != 0 {
		t.Fatalf("stats = %+v", st)
	}
}
