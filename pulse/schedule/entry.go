package schedule

import (
	"time"

	"github.com/teranos/pulsegraph/pulse/job"
)

// entryState is the arming state of a schedule entry.
type entryState int

const (
	entryArmed      entryState = iota // waiting for fireAt
	entryFiring                       // fire time reached; waiting on dependencies, rate limit or queue space
	entryDispatched                   // handed to the pool; waiting for completion
	entryRetired                      // will not fire again
)

func (s entryState) String() string {
	switch s {
	case entryArmed:
		return "armed"
	case entryFiring:
		return "firing"
	case entryDispatched:
		return "dispatched"
	case entryRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// entry is one armed timer. Entries are owned by the engine loop goroutine.
type entry struct {
	name        string
	spec        job.Spec
	state       entryState
	fireAt      time.Time // fire time of the current arming; kept across deferrals
	firedAt     time.Time // when the entry became Firing
	deferrals   int       // passes spent Firing behind the dependency gate
	executionID string    // set while Dispatched
}

func newEntry(spec job.Spec, fireAt time.Time) *entry {
	return &entry{
		name:   spec.Name,
		spec:   spec,
		state:  entryArmed,
		fireAt: fireAt,
	}
}

// rearm schedules the next run of a periodic entry, anchored to the end of
// the previous run.
func (e *entry) rearm(completedAt time.Time) {
	e.state = entryArmed
	e.fireAt = completedAt.Add(e.spec.Period)
	e.firedAt = time.Time{}
	e.deferrals = 0
	e.executionID = ""
}

func (e *entry) due(now time.Time) bool {
	return e.state == entryArmed && !now.Before(e.fireAt)
}
