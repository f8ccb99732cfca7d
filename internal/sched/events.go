package sched

import "time"

// Bus event types published by the scheduler when a Bus is attached.
// Dispatch events are sampled (WithTraceRate); fault events always publish.
const (
	EventDispatch = "sched.dispatch"
	EventFault    = "sched.fault"
)

// DispatchEvent is the bus payload for one completed dispatch.
type DispatchEvent struct {
	Slot  int           `json:"slot"`
	Task  string        `json:"task"`
	Tick  Tick          `json:"tick"`
	Dur   time.Duration `json:"dur"`
	Fault bool          `json:"fault"`
	Err   string        `json:"err,omitempty"`
}
