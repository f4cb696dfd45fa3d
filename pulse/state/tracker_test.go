package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/pulse/job"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(t *testing.T, policy GatePolicy, specs ...job.Spec) (*Tracker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	tr := NewTrackerWithClock(policy, clock.Now)
	for _, spec := range specs {
		require.NoError(t, tr.Register(spec))
	}
	return tr, clock
}

func TestTracker_RegisterCreatesPending(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	rec, err := tr.Snapshot("A")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0, rec.RunCount)
	assert.Equal(t, OutcomeNone, rec.LastOutcome)
	assert.False(t, rec.Retired)
}

func TestTracker_UnknownJob(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion)

	_, err := tr.Snapshot("missing")
	assert.True(t, errors.Is(err, errors.ErrUnknownJob))
	assert.True(t, errors.Is(tr.RecordStart("missing"), errors.ErrUnknownJob))
	assert.True(t, errors.Is(tr.MarkEligible("missing"), errors.ErrUnknownJob))
	assert.True(t, errors.Is(tr.RecordCompletion("missing", OutcomeSucceeded, nil), errors.ErrUnknownJob))
	assert.True(t, errors.Is(tr.Retire("missing"), errors.ErrUnknownJob))
	assert.False(t, tr.IsRunning("missing"))
	assert.False(t, tr.IsCompleted("missing"))
	assert.False(t, tr.AllDependenciesCompleted("missing"))
}

func TestTracker_OneShotLifecycle(t *testing.T) {
	tr, clock := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	require.NoError(t, tr.MarkEligible("A"))
	rec, _ := tr.Snapshot("A")
	assert.Equal(t, StatusEligible, rec.Status)

	require.NoError(t, tr.RecordStart("A"))
	assert.True(t, tr.IsRunning("A"))
	started := clock.Now()

	clock.Advance(2 * time.Second)
	require.NoError(t, tr.RecordCompletion("A", OutcomeSucceeded, nil))

	rec, err := tr.Snapshot("A")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.RunCount)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, started, rec.LastStartTime)
	assert.Equal(t, started.Add(2*time.Second), rec.LastEndTime)
	assert.Equal(t, 2*time.Second, rec.Duration())
	assert.True(t, tr.IsCompleted("A"))
	assert.False(t, tr.IsRunning("A"))

	// Eligible is not re-entered after completion
	require.NoError(t, tr.MarkEligible("A"))
	rec, _ = tr.Snapshot("A")
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestTracker_DoubleStartIsInvalidTransition(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	require.NoError(t, tr.RecordStart("A"))
	err := tr.RecordStart("A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	// The running instance is unaffected
	require.NoError(t, tr.RecordCompletion("A", OutcomeSucceeded, nil))
	rec, _ := tr.Snapshot("A")
	assert.Equal(t, 1, rec.RunCount)
}

func TestTracker_FinishedOneShotCannotRestart(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"}, job.Spec{Name: "B"})

	require.NoError(t, tr.RecordStart("A"))
	require.NoError(t, tr.RecordCompletion("A", OutcomeSucceeded, nil))
	assert.True(t, errors.Is(tr.RecordStart("A"), errors.ErrInvalidTransition))

	require.NoError(t, tr.RecordStart("B"))
	require.NoError(t, tr.RecordCompletion("B", OutcomeFailed, errors.New("boom")))
	assert.True(t, errors.Is(tr.RecordStart("B"), errors.ErrInvalidTransition))
}

func TestTracker_CompletionWithoutStart(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	err := tr.RecordCompletion("A", OutcomeSucceeded, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestTracker_FailureRecordsError(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	require.NoError(t, tr.RecordStart("A"))
	require.NoError(t, tr.RecordCompletion("A", OutcomeFailed, errors.New("disk full")))

	rec, _ := tr.Snapshot("A")
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, OutcomeFailed, rec.LastOutcome)
	assert.Equal(t, "disk full", rec.LastError)
	assert.Equal(t, 1, rec.FailureCount)
	assert.Equal(t, 0, rec.SuccessCount)
	assert.False(t, tr.IsCompleted("A"))
}

func TestTracker_PeriodicResetsToPending(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "P", Periodic: true, Period: time.Second})

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.MarkEligible("P"))
		require.NoError(t, tr.RecordStart("P"))
		require.NoError(t, tr.RecordCompletion("P", OutcomeSucceeded, nil))
	}
	require.NoError(t, tr.RecordStart("P"))
	require.NoError(t, tr.RecordCompletion("P", OutcomeFailed, errors.New("flaky")))

	rec, _ := tr.Snapshot("P")
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 4, rec.RunCount)
	assert.Equal(t, 3, rec.SuccessCount)
	assert.Equal(t, 1, rec.FailureCount)
	assert.Equal(t, "flaky", rec.LastError)
	// A periodic job stays completed once it has succeeded
	assert.True(t, tr.IsCompleted("P"))
}

func TestTracker_GateOneShot(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "A"},
		job.Spec{Name: "B", Dependencies: []string{"A"}},
		job.Spec{Name: "C", Dependencies: []string{"A", "B"}})

	assert.True(t, tr.AllDependenciesCompleted("A"), "no dependencies")
	assert.False(t, tr.AllDependenciesCompleted("B"))

	require.NoError(t, tr.RecordStart("A"))
	assert.False(t, tr.AllDependenciesCompleted("B"), "launched is not completed")

	require.NoError(t, tr.RecordCompletion("A", OutcomeSucceeded, nil))
	assert.True(t, tr.AllDependenciesCompleted("B"))
	assert.False(t, tr.AllDependenciesCompleted("C"))

	require.NoError(t, tr.RecordStart("B"))
	require.NoError(t, tr.RecordCompletion("B", OutcomeSucceeded, nil))
	assert.True(t, tr.AllDependenciesCompleted("C"))
}

func TestTracker_OneShotFailureBlocksDependents(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "A"},
		job.Spec{Name: "B", Dependencies: []string{"A"}})

	require.NoError(t, tr.RecordStart("A"))
	require.NoError(t, tr.RecordCompletion("A", OutcomeFailed, errors.New("boom")))
	require.NoError(t, tr.MarkEligible("B"))

	assert.False(t, tr.AllDependenciesCompleted("B"))
	rec, _ := tr.Snapshot("B")
	assert.Equal(t, StatusEligible, rec.Status)
	assert.Equal(t, []string{"A"}, rec.BlockedBy)
}

func TestTracker_FailureBlocksWholeChain(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "A"},
		job.Spec{Name: "B", Dependencies: []string{"A"}},
		job.Spec{Name: "C", Dependencies: []string{"B"}},
		job.Spec{Name: "ok"},
		job.Spec{Name: "D", Dependencies: []string{"ok", "C", "B"}})

	require.NoError(t, tr.RecordStart("ok"))
	require.NoError(t, tr.RecordCompletion("ok", OutcomeSucceeded, nil))
	require.NoError(t, tr.RecordStart("A"))
	require.NoError(t, tr.RecordCompletion("A", OutcomeFailed, errors.New("boom")))

	for _, name := range []string{"B", "C", "D"} {
		require.NoError(t, tr.MarkEligible(name))
		rec, err := tr.Snapshot(name)
		require.NoError(t, err)
		assert.Equal(t, StatusEligible, rec.Status, name)
		assert.Equal(t, []string{"A"}, rec.BlockedBy, "%s is stuck behind A", name)
	}

	rec, _ := tr.Snapshot("ok")
	assert.Empty(t, rec.BlockedBy)
}

func TestTracker_BlockedByReportsEveryFailedRoot(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "left"},
		job.Spec{Name: "right"},
		job.Spec{Name: "mid", Dependencies: []string{"right"}},
		job.Spec{Name: "P", Dependencies: []string{"left"}, Periodic: true, Period: time.Second},
		job.Spec{Name: "sink", Dependencies: []string{"P", "mid"}})

	for _, name := range []string{"left", "right"} {
		require.NoError(t, tr.RecordStart(name))
		require.NoError(t, tr.RecordCompletion(name, OutcomeFailed, errors.New("boom")))
	}

	// A periodic job that never succeeded passes its blockers through
	rec, _ := tr.Snapshot("sink")
	assert.Equal(t, []string{"left", "right"}, rec.BlockedBy)
}

func TestTracker_RegisterRefusesToReplaceRunningRecord(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	require.NoError(t, tr.RecordStart("A"))
	require.NoError(t, tr.Retire("A"))

	err := tr.Register(job.Spec{Name: "A"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
	assert.NotEmpty(t, errors.GetAllHints(err))

	// The old run still lands on its own record
	require.NoError(t, tr.RecordCompletion("A", OutcomeSucceeded, nil))
	rec, _ := tr.Snapshot("A")
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.True(t, rec.Retired)

	require.NoError(t, tr.Register(job.Spec{Name: "A"}))
	rec, _ = tr.Snapshot("A")
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0, rec.RunCount)
}

func TestTracker_GateFirstCompletionPeriodicParent(t *testing.T) {
	tr, clock := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "P", Periodic: true, Period: time.Second},
		job.Spec{Name: "D", Dependencies: []string{"P"}, Periodic: true, Period: time.Second})

	require.NoError(t, tr.RecordStart("P"))
	require.NoError(t, tr.RecordCompletion("P", OutcomeFailed, errors.New("boom")))
	assert.False(t, tr.AllDependenciesCompleted("D"), "failed run does not open the gate")

	require.NoError(t, tr.RecordStart("P"))
	require.NoError(t, tr.RecordCompletion("P", OutcomeSucceeded, nil))
	assert.True(t, tr.AllDependenciesCompleted("D"))

	// Parent running again does not re-block the dependent
	clock.Advance(time.Second)
	require.NoError(t, tr.RecordStart("P"))
	assert.True(t, tr.AllDependenciesCompleted("D"))

	// Nor does a later failure
	require.NoError(t, tr.RecordCompletion("P", OutcomeFailed, errors.New("boom")))
	assert.True(t, tr.AllDependenciesCompleted("D"))

	rec, _ := tr.Snapshot("D")
	assert.Empty(t, rec.BlockedBy, "periodic parents never block permanently")
}

func TestTracker_GateCurrentGeneration(t *testing.T) {
	tr, clock := newTracker(t, GateCurrentGeneration,
		job.Spec{Name: "P", Periodic: true, Period: time.Second},
		job.Spec{Name: "D", Dependencies: []string{"P"}, Periodic: true, Period: time.Second})

	require.NoError(t, tr.RecordStart("P"))
	clock.Advance(time.Millisecond)
	require.NoError(t, tr.RecordCompletion("P", OutcomeSucceeded, nil))
	assert.True(t, tr.AllDependenciesCompleted("D"))

	// D consumes that generation
	clock.Advance(time.Millisecond)
	require.NoError(t, tr.RecordStart("D"))
	clock.Advance(time.Millisecond)
	require.NoError(t, tr.RecordCompletion("D", OutcomeSucceeded, nil))
	assert.False(t, tr.AllDependenciesCompleted("D"), "needs a fresh parent run")

	// Parent in flight keeps the gate closed
	clock.Advance(time.Millisecond)
	require.NoError(t, tr.RecordStart("P"))
	assert.False(t, tr.AllDependenciesCompleted("D"))

	clock.Advance(time.Millisecond)
	require.NoError(t, tr.RecordCompletion("P", OutcomeSucceeded, nil))
	assert.True(t, tr.AllDependenciesCompleted("D"))
}

func TestTracker_GateCurrentGenerationOneShotParent(t *testing.T) {
	tr, clock := newTracker(t, GateCurrentGeneration,
		job.Spec{Name: "A"},
		job.Spec{Name: "D", Dependencies: []string{"A"}, Periodic: true, Period: time.Second})

	require.NoError(t, tr.RecordStart("A"))
	require.NoError(t, tr.RecordCompletion("A", OutcomeSucceeded, nil))

	clock.Advance(time.Millisecond)
	require.NoError(t, tr.RecordStart("D"))
	require.NoError(t, tr.RecordCompletion("D", OutcomeSucceeded, nil))
	assert.True(t, tr.AllDependenciesCompleted("D"), "one-shot parents gate on first completion only")
}

func TestTracker_SnapshotIdempotent(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "A"},
		job.Spec{Name: "B", Dependencies: []string{"A"}})

	require.NoError(t, tr.RecordStart("A"))
	require.NoError(t, tr.RecordCompletion("A", OutcomeFailed, errors.New("boom")))

	first, err := tr.Snapshot("B")
	require.NoError(t, err)
	second, err := tr.Snapshot("B")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Snapshots are copies
	first.BlockedBy[0] = "mutated"
	third, _ := tr.Snapshot("B")
	assert.Equal(t, []string{"A"}, third.BlockedBy)
}

func TestTracker_SnapshotsRegistrationOrder(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion,
		job.Spec{Name: "zeta"}, job.Spec{Name: "alpha"}, job.Spec{Name: "mid"})

	var names []string
	for _, rec := range tr.Snapshots() {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestTracker_RetireKeepsRecord(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	require.NoError(t, tr.Retire("A"))
	rec, err := tr.Snapshot("A")
	require.NoError(t, err)
	assert.True(t, rec.Retired)

	// Re-registering resets the record in place
	require.NoError(t, tr.Register(job.Spec{Name: "A"}))
	rec, _ = tr.Snapshot("A")
	assert.False(t, rec.Retired)
	assert.Len(t, tr.Snapshots(), 1)
}

func TestTracker_InvalidPolicyFallsBack(t *testing.T) {
	tr := NewTracker(GatePolicy("bogus"))
	assert.Equal(t, GateFirstCompletion, tr.Policy())
}

func TestTracker_ConcurrentStartsAdmitOne(t *testing.T) {
	tr, _ := newTracker(t, GateFirstCompletion, job.Spec{Name: "A"})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.RecordStart("A") == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}
