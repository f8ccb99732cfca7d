package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGoCleanExit(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("worker", func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c := s.Counters(); c.Started != 1 || c.Active != 0 {
		t.Fatalf("counters = %+v, want started=1 active=0", c)
	}
}

func TestGoContextCanceledIsClean(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil for canceled exit", err)
	}
}

func TestFirstErrorCancelsWhenConfigured(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })
	s.Go("bystander", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "failing") {
		t.Fatalf("error %q should carry the goroutine name", err)
	}
}

func TestFirstErrorWins(t *testing.T) {
	s := NewSupervisor(context.Background())

	first := errors.New("first")
	s.Go("one", func(ctx context.Context) error { return first })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.Wait(ctx)

	s.Go("two", func(ctx context.Context) error { return errors.New("second") })
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	_ = s.Wait(ctx2)

	if err := s.Err(); !errors.Is(err, first) {
		t.Fatalf("Err() = %v, want the first error to stick", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go0("panicky", func(ctx context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "panic in panicky") {
		t.Fatalf("Wait = %v, want panic error", err)
	}

	snap := s.Snapshot()
	var found bool
	for _, g := range snap.Goroutines {
		if g.Name == "panicky" {
			found = true
			if g.Panics != 1 {
				t.Fatalf("panics = %d, want 1", g.Panics)
			}
		}
	}
	if !found {
		t.Fatalf("snapshot missing goroutine stats: %+v", snap.Goroutines)
	}
	if snap.FirstError == "" {
		t.Fatal("snapshot should carry first error")
	}
}

func TestWaitDeadline(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}

	// Release the goroutine so the test does not leak it.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSnapshotAggregatesByName(t *testing.T) {
	s := NewSupervisor(context.Background())
	for i := 0; i < 3; i++ {
		s.Go("pool", func(ctx context.Context) error { return nil })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Goroutines) != 1 {
		t.Fatalf("goroutines = %d, want 1 aggregated entry", len(snap.Goroutines))
	}
	g := snap.Goroutines[0]
	if g.Name != "pool" || g.Started != 3 || g.Active != 0 {
		t.Fatalf("stats = %+v, want name=pool started=3 active=0", g)
	}
}
