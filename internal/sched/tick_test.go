package sched

import (
	"testing"
	"time"
)

func TestReached(t *testing.T) {
	t.Parallel()

	const max = ^Tick(0)

	cases := []struct {
		name   string
		target Tick
		now    Tick
		want   bool
	}{
		{"before", 100, 99, false},
		{"exact", 100, 100, true},
		{"after", 100, 101, true},
		{"zero at zero", 0, 0, true},
		{"far future", 1 << 30, 0, false},
		{"across wrap reached", max - 5, 3, true},
		{"across wrap pending", 3, max - 5, false},
		{"target wrapped past zero", 2, max, false},
		{"now wrapped past target", max, 2, true},
		{"half range minus one", 1<<31 - 1, 0, false},
		{"just inside horizon", 0, 1<<31 - 1, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.target.Reached(tc.now); got != tc.want {
				t.Fatalf("Tick(%#x).Reached(%#x) = %v, want %v", uint32(tc.target), uint32(tc.now), got, tc.want)
			}
		})
	}
}

func TestAddWraps(t *testing.T) {
	t.Parallel()

	const max = ^Tick(0)
	if got := max.Add(1); got != 0 {
		t.Fatalf("max.Add(1) = %#x, want 0", uint32(got))
	}
	if got := (max - 2).Add(10); got != 7 {
		t.Fatalf("(max-2).Add(10) = %d, want 7", got)
	}
	if got := Tick(100).Add(25); got != 125 {
		t.Fatalf("Tick(100).Add(25) = %d, want 125", got)
	}
}

func TestTicksConversion(t *testing.T) {
	t.Parallel()

	if got := Ticks(1500 * time.Millisecond); got != 1500 {
		t.Fatalf("Ticks(1.5s) = %d, want 1500", got)
	}
	if got := Ticks(999 * time.Microsecond); got != 0 {
		t.Fatalf("Ticks(999us) = %d, want 0 (truncated)", got)
	}
	if got := Tick(250).Duration(); got != 250*time.Millisecond {
		t.Fatalf("Tick(250).Duration() = %v, want 250ms", got)
	}
}
