package state

import (
	"sync"
	"time"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/pulse/job"
)

// Tracker owns the execution record of every registered job.
// All transitions are serialized by one mutex and are atomic.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record
	order   []string // registration order
	policy  GatePolicy
	timeNow func() time.Time // Injectable for testing
}

// NewTracker creates a tracker using the real clock.
func NewTracker(policy GatePolicy) *Tracker {
	return NewTrackerWithClock(policy, time.Now)
}

// NewTrackerWithClock creates a tracker with an injectable clock (for testing).
func NewTrackerWithClock(policy GatePolicy, timeNow func() time.Time) *Tracker {
	if !policy.Valid() {
		policy = GateFirstCompletion
	}
	return &Tracker{
		records: make(map[string]*record),
		policy:  policy,
		timeNow: timeNow,
	}
}

// Policy returns the gate policy in effect.
func (t *Tracker) Policy() GatePolicy {
	return t.policy
}

// Register creates a Pending record for spec. A removed job may be
// registered again, which replaces its old record, but not while its last
// run is still in progress: that returns ErrInvalidTransition and keeps the
// old record.
func (t *Tracker) Register(spec job.Spec) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, exists := t.records[spec.Name]; exists {
		if old.status == StatusRunning {
			return errors.WithHint(
				errors.Wrapf(errors.ErrInvalidTransition, "job %q is still running", spec.Name),
				"wait for the previous run to finish before registering the job again")
		}
	} else {
		t.order = append(t.order, spec.Name)
	}

	deps := make([]string, len(spec.Dependencies))
	copy(deps, spec.Dependencies)
	t.records[spec.Name] = &record{
		name:     spec.Name,
		deps:     deps,
		periodic: spec.Periodic,
		status:   StatusPending,
	}
	return nil
}

// MarkEligible moves a Pending job to Eligible once its fire time is reached.
// Any other status is left untouched.
func (t *Tracker) MarkEligible(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(name)
	if err != nil {
		return err
	}
	if rec.status == StatusPending {
		rec.status = StatusEligible
	}
	return nil
}

// RecordStart moves a job to Running. Starting a job that is already running,
// or a one-shot job that already finished, is an invalid transition.
func (t *Tracker) RecordStart(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(name)
	if err != nil {
		return err
	}

	switch rec.status {
	case StatusPending, StatusEligible:
	default:
		return errors.Wrapf(errors.ErrInvalidTransition, "job %q: %s -> %s", name, rec.status, StatusRunning)
	}

	rec.status = StatusRunning
	rec.lastStart = t.timeNow()
	return nil
}

// RecordCompletion moves a Running job to Completed or Failed and updates its
// counters. Periodic jobs go back to Pending so the next arming can fire.
// runErr is kept as the last error message when outcome is OutcomeFailed.
func (t *Tracker) RecordCompletion(name string, outcome Outcome, runErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(name)
	if err != nil {
		return err
	}
	if rec.status != StatusRunning {
		return errors.Wrapf(errors.ErrInvalidTransition, "job %q: %s -> %s", name, rec.status, outcomeStatus(outcome))
	}

	now := t.timeNow()
	rec.lastEnd = now
	rec.runCount++
	rec.lastOutcome = outcome
	rec.lastError = ""

	switch outcome {
	case OutcomeSucceeded:
		rec.successCount++
		rec.lastSuccess = now
	default:
		rec.lastOutcome = OutcomeFailed
		rec.failureCount++
		if runErr != nil {
			rec.lastError = runErr.Error()
		}
	}

	if rec.periodic {
		rec.status = StatusPending
	} else {
		rec.status = outcomeStatus(rec.lastOutcome)
	}
	return nil
}

// IsCompleted reports whether a job has satisfied its dependents at least
// once: a one-shot job is Completed, a periodic job has succeeded once.
func (t *Tracker) IsCompleted(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[name]
	return ok && rec.completed()
}

// IsRunning reports whether a job is currently executing.
func (t *Tracker) IsRunning(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[name]
	return ok && rec.status == StatusRunning
}

// AllDependenciesCompleted is the dependency gate consulted before dispatch.
func (t *Tracker) AllDependenciesCompleted(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[name]
	if !ok {
		return false
	}
	for _, depName := range rec.deps {
		dep, ok := t.records[depName]
		if !ok || !dep.completed() {
			return false
		}
		if dep.periodic && t.policy == GateCurrentGeneration {
			if dep.status == StatusRunning || !dep.lastSuccess.After(rec.lastStart) {
				return false
			}
		}
	}
	return true
}

// Snapshot returns a copy of a job's record.
func (t *Tracker) Snapshot(name string) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(name)
	if err != nil {
		return Record{}, err
	}
	return t.snapshotLocked(rec), nil
}

// Snapshots returns copies of all records in registration order.
func (t *Tracker) Snapshots() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.snapshotLocked(t.records[name]))
	}
	return out
}

// Retire marks a job's record as no longer armed. The record is kept.
func (t *Tracker) Retire(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.lookup(name)
	if err != nil {
		return err
	}
	rec.retired = true
	return nil
}

// Has reports whether a record exists for name.
func (t *Tracker) Has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[name]
	return ok
}

func (t *Tracker) lookup(name string) (*record, error) {
	rec, ok := t.records[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnknownJob, "job %q", name)
	}
	return rec, nil
}

func (t *Tracker) snapshotLocked(rec *record) Record {
	snap := Record{
		Name:          rec.name,
		Status:        rec.status,
		Periodic:      rec.periodic,
		LastStartTime: rec.lastStart,
		LastEndTime:   rec.lastEnd,
		RunCount:      rec.runCount,
		SuccessCount:  rec.successCount,
		FailureCount:  rec.failureCount,
		LastOutcome:   rec.lastOutcome,
		LastError:     rec.lastError,
		Retired:       rec.retired,
	}
	snap.BlockedBy = t.blockedByLocked(rec)
	return snap
}

// blockedByLocked returns the failed one-shot jobs upstream of rec that keep
// it from ever running. The walk is iterative and does not descend past
// dependencies that already completed.
func (t *Tracker) blockedByLocked(rec *record) []string {
	var roots []string
	visited := make(map[string]bool)

	stack := make([]string, 0, len(rec.deps))
	for i := len(rec.deps) - 1; i >= 0; i-- {
		stack = append(stack, rec.deps[i])
	}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[name] {
			continue
		}
		visited[name] = true

		dep, ok := t.records[name]
		if !ok || dep.completed() {
			continue
		}
		if !dep.periodic && dep.status == StatusFailed {
			roots = append(roots, name)
			continue
		}
		// Dependencies pushed in reverse so they pop in declaration order
		for i := len(dep.deps) - 1; i >= 0; i-- {
			if !visited[dep.deps[i]] {
				stack = append(stack, dep.deps[i])
			}
		}
	}
	return roots
}

func (r *record) completed() bool {
	if r.periodic {
		return r.successCount > 0
	}
	return r.status == StatusCompleted
}

func outcomeStatus(outcome Outcome) Status {
	if outcome == OutcomeSucceeded {
		return StatusCompleted
	}
	return StatusFailed
}
