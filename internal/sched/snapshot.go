package sched

import "time"

// SlotSnapshot is a point-in-time view of one priority slot.
type SlotSnapshot struct {
	Slot       int           `json:"slot"`
	Task       string        `json:"task"`
	Dispatches uint64        `json:"dispatches"`
	Faults     uint64        `json:"faults"`
	LastTick   Tick          `json:"last_tick"`
	LastDur    time.Duration `json:"last_dur_ns"`
	TotalDur   time.Duration `json:"total_dur_ns"`
}

// Snapshot is a point-in-time view of the dispatch loop for diagnostics.
// Counters are read atomically but not as one unit, so totals may lag each
// other by a dispatch.
type Snapshot struct {
	Running bool           `json:"running"`
	Now     Tick           `json:"now"`
	Scans   uint64         `json:"scans"`
	Idles   uint64         `json:"idles"`
	Slots   []SlotSnapshot `json:"slots"`
}

func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Running: s.running.Load(),
		Now:     s.clock.Now(),
		Scans:   s.scans.Load(),
		Idles:   s.idles.Load(),
		Slots:   make([]SlotSnapshot, len(s.slots)),
	}
	for i, sl := range s.slots {
		snap.Slots[i] = SlotSnapshot{
			Slot:       i,
			Task:       sl.name,
			Dispatches: sl.dispatches.Load(),
			Faults:     sl.faults.Load(),
			LastTick:   Tick(sl.lastTick.Load()),
			LastDur:    time.Duration(sl.lastDur.Load()),
			TotalDur:   time.Duration(sl.totalDur.Load()),
		}
	}
	return snap
}
