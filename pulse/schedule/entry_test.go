package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/pulsegraph/pulse/job"
)

func TestEntry_Rearm(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := newEntry(job.Spec{Name: "P", Periodic: true, Period: 5 * time.Second}, start)

	assert.False(t, e.due(start.Add(-time.Millisecond)))
	assert.True(t, e.due(start))

	e.state = entryDispatched
	e.firedAt = start
	e.deferrals = 3
	e.executionID = "exec-1"
	assert.False(t, e.due(start.Add(time.Hour)), "only armed entries fire")

	// Overran: completion 12s after start, period 5s
	completed := start.Add(12 * time.Second)
	e.rearm(completed)
	assert.Equal(t, entryArmed, e.state)
	assert.Equal(t, completed.Add(5*time.Second), e.fireAt)
	assert.True(t, e.firedAt.IsZero())
	assert.Zero(t, e.deferrals)
	assert.Empty(t, e.executionID)
}

func TestEntryState_String(t *testing.T) {
	assert.Equal(t, "armed", entryArmed.String())
	assert.Equal(t, "firing", entryFiring.String())
	assert.Equal(t, "dispatched", entryDispatched.String())
	assert.Equal(t, "retired", entryRetired.String())
	assert.Equal(t, "unknown", entryState(42).String())
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{GatePolicy: "bogus"}.withDefaults()
	d := DefaultConfig()
	assert.Equal(t, d.Workers, cfg.Workers)
	assert.Equal(t, d.QueueCapacity, cfg.QueueCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, d.GatePolicy, cfg.GatePolicy)

	pc := Config{Workers: 2, QueueCapacity: 3, HardStopTimeout: time.Second}.poolConfig()
	assert.Equal(t, 2, pc.Workers)
	assert.Equal(t, 3, pc.QueueCapacity)
	assert.Equal(t, time.Second, pc.HardStopTimeout)
}
