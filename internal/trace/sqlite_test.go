package trace

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickrun/internal/sched"
	"tickrun/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("want error for unknown driver")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("want error for missing path")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	sess := Session{ID: "s-1", StartedAt: time.Now().UTC(), Tasks: "watchdog,serial"}
	if err := st.BeginSession(ctx, sess); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}

	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	batch := []Record{
		{At: base, Slot: 0, Task: "watchdog", Tick: 100, Dur: 50 * time.Microsecond},
		{At: base.Add(time.Second), Slot: 1, Task: "serial", Tick: 101, Dur: 75 * time.Microsecond},
		{At: base.Add(2 * time.Second), Slot: 1, Task: "serial", Tick: 102, Dur: 10 * time.Microsecond, Fault: true, Err: "oops"},
	}
	if err := st.Append(ctx, sess.ID, batch); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := st.Append(ctx, sess.ID, nil); err != nil {
		t.Fatalf("Append(empty): %v", err)
	}

	recs, err := st.Records(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	// newest first
	if recs[0].Tick != 102 || recs[2].Tick != 100 {
		t.Fatalf("order: ticks %d,%d,%d", recs[0].Tick, recs[1].Tick, recs[2].Tick)
	}
	if !recs[0].Fault || recs[0].Err != "oops" {
		t.Fatalf("fault record: %+v", recs[0])
	}
	if recs[2].Session != sess.ID || recs[2].Task != "watchdog" {
		t.Fatalf("record: %+v", recs[2])
	}
	if !recs[2].At.Equal(base) {
		t.Fatalf("at = %v, want %v", recs[2].At, base)
	}
	if recs[1].Dur != 75*time.Microsecond {
		t.Fatalf("dur = %v", recs[1].Dur)
	}

	// wraparound-range ticks survive the round trip
	big := []Record{{At: base, Slot: 0, Task: "watchdog", Tick: sched.Tick(0xFFFFFFF0)}}
	if err := st.Append(ctx, sess.ID, big); err != nil {
		t.Fatalf("Append(big tick): %v", err)
	}
	recs, err = st.Records(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if recs[0].Tick != sched.Tick(0xFFFFFFF0) {
		t.Fatalf("tick = %#x, want 0xFFFFFFF0", uint32(recs[0].Tick))
	}

	sessions, err := st.Sessions(ctx, 5)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s-1" || sessions[0].Tasks != "watchdog,serial" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestSQLiteRecordsAcrossSessions(t *testing.T) {
	st, err := Open(Config{Driver: "sqlite", Path: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	for i, id := range []string{"s-a", "s-b"} {
		if err := st.BeginSession(ctx, Session{ID: id, StartedAt: now.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("BeginSession(%s): %v", id, err)
		}
		if err := st.Append(ctx, id, []Record{{At: now, Slot: 0, Task: "t", Tick: sched.Tick(i)}}); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	all, err := st.Records(ctx, "", 10)
	if err != nil {
		t.Fatalf("Records(all): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records across sessions, want 2", len(all))
	}

	only, err := st.Records(ctx, "s-a", 10)
	if err != nil {
		t.Fatalf("Records(s-a): %v", err)
	}
	if len(only) != 1 || only[0].Session != "s-a" {
		t.Fatalf("filtered records = %+v", only)
	}

	sessions, err := st.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s-b" {
		t.Fatalf("sessions newest-first = %+v", sessions)
	}
}
