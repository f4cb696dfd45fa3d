// Package state tracks the execution lifecycle of every registered job.
package state

import "time"

// Status is the execution status of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEligible  Status = "eligible" // fire time reached, waiting on dependencies or a worker
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Outcome is the result of a single run.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// GatePolicy decides when a periodic dependency satisfies the dependency gate.
// One-shot dependencies always gate on their first completion.
type GatePolicy string

const (
	// GateFirstCompletion opens the gate once the dependency has succeeded at
	// least once, and never closes it again.
	GateFirstCompletion GatePolicy = "first_completion"
	// GateCurrentGeneration requires a successful dependency run that ended
	// after the dependent last started, with no dependency run in progress.
	GateCurrentGeneration GatePolicy = "current_generation"
)

// Valid reports whether p is a known policy.
func (p GatePolicy) Valid() bool {
	return p == GateFirstCompletion || p == GateCurrentGeneration
}

// Record is a snapshot of one job's execution state.
type Record struct {
	Name          string
	Status        Status
	Periodic      bool
	LastStartTime time.Time
	LastEndTime   time.Time
	RunCount      int
	SuccessCount  int
	FailureCount  int
	LastOutcome   Outcome
	LastError     string
	BlockedBy     []string // failed one-shot jobs upstream, direct or transitive; they never run again
	Retired       bool     // no longer armed: removed, or the scheduler shut down
}

// Duration returns the length of the last finished run, or zero.
func (r Record) Duration() time.Duration {
	if r.LastEndTime.Before(r.LastStartTime) || r.LastStartTime.IsZero() {
		return 0
	}
	return r.LastEndTime.Sub(r.LastStartTime)
}

// record is the tracker's mutable state for one job.
type record struct {
	name         string
	deps         []string
	periodic     bool
	status       Status
	lastStart    time.Time
	lastEnd      time.Time
	lastSuccess  time.Time
	runCount     int
	successCount int
	failureCount int
	lastOutcome  Outcome
	lastError    string
	retired      bool
}
