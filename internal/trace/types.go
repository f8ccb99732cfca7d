package trace

import (
	"time"

	"tickrun/internal/sched"
)

// Config configures the journal backend.
//
// Driver values:
//   - "sqlite": SQLite database file (":memory:" works for tests)
//
// If Driver is empty or "none", the journal is disabled; the in-memory
// ring still works.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Record is one captured dispatch. Keep it compact and schema-stable.
type Record struct {
	Session string        `json:"session,omitempty"`
	At      time.Time     `json:"at"`
	Slot    int           `json:"slot"`
	Task    string        `json:"task"`
	Tick    sched.Tick    `json:"tick"`
	Dur     time.Duration `json:"dur_ns"`
	Fault   bool          `json:"fault"`
	Err     string        `json:"err,omitempty"`
}

// Session identifies one run of the dispatch loop in the journal.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Tasks     string    `json:"tasks"` // comma-joined slot names, slot order
}
