package am

import (
	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/pulse/state"
)

// Validate checks that the configuration is valid.
// Zero means "use the default" for the scheduler sizes; negative is invalid.
func (c *Config) Validate() error {
	s := c.Scheduler

	if s.Workers < 0 {
		return errors.Newf("scheduler.workers must be >= 0, got %d", s.Workers)
	}
	if s.QueueCapacity < 0 {
		return errors.Newf("scheduler.queue_capacity must be >= 0, got %d", s.QueueCapacity)
	}
	if s.PollIntervalMS < 0 {
		return errors.Newf("scheduler.poll_interval_ms must be >= 0, got %d", s.PollIntervalMS)
	}
	if s.GracePeriodSeconds < 0 {
		return errors.Newf("scheduler.grace_period_seconds must be >= 0, got %d", s.GracePeriodSeconds)
	}
	if s.HardStopSeconds < 0 {
		return errors.Newf("scheduler.hard_stop_seconds must be >= 0, got %d", s.HardStopSeconds)
	}
	if s.MaxDispatchPerSecond < 0 {
		return errors.Newf("scheduler.max_dispatch_per_second must be >= 0, got %f", s.MaxDispatchPerSecond)
	}
	// Empty falls back to the default gate
	if s.PeriodicGate != "" && !state.GatePolicy(s.PeriodicGate).Valid() {
		return errors.WithHintf(
			errors.Newf("scheduler.periodic_gate %q is not a known policy", s.PeriodicGate),
			"use %q or %q", state.GateFirstCompletion, state.GateCurrentGeneration)
	}

	if c.History.Enabled && c.History.Path == "" {
		return errors.New("history.path cannot be empty when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		return errors.Newf("history.retention_days must be >= 0, got %d", c.History.RetentionDays)
	}

	return nil
}
