// Package am loads pulsegraph configuration ("am" as in "I am configured as").
//
// Sources merge in precedence order: built-in defaults, /etc/pulsegraph/am.toml,
// ~/.pulsegraph/am.toml, the nearest am.toml above the working directory, then
// PULSEGRAPH_* environment variables.
package am

import (
	"fmt"
	"time"

	"github.com/teranos/pulsegraph/pulse/schedule"
	"github.com/teranos/pulsegraph/pulse/state"
)

// Config represents the pulsegraph configuration
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler"`
	History   HistoryConfig   `mapstructure:"history" toml:"history"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// SchedulerConfig configures the scheduling engine and its worker pool
type SchedulerConfig struct {
	Workers              int     `mapstructure:"workers" toml:"workers"`                                 // Concurrent job bodies (default: 4)
	QueueCapacity        int     `mapstructure:"queue_capacity" toml:"queue_capacity"`                   // Dispatched jobs waiting for a worker (default: 16)
	PollIntervalMS       int     `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`               // Re-check interval for deferred entries (default: 100)
	GracePeriodSeconds   int     `mapstructure:"grace_period_seconds" toml:"grace_period_seconds"`       // Wait for running bodies at shutdown before cancelling (default: 10)
	HardStopSeconds      int     `mapstructure:"hard_stop_seconds" toml:"hard_stop_seconds"`             // Wait after cancelling before giving up (default: 5)
	PeriodicGate         string  `mapstructure:"periodic_gate" toml:"periodic_gate"`                     // first_completion or current_generation
	MaxDispatchPerSecond float64 `mapstructure:"max_dispatch_per_second" toml:"max_dispatch_per_second"` // 0 = unlimited
}

// HistoryConfig configures the SQLite execution history
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled" toml:"enabled"`
	Path          string `mapstructure:"path" toml:"path"`
	RetentionDays int    `mapstructure:"retention_days" toml:"retention_days"` // 0 = keep forever
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// ScheduleConfig converts the scheduler section into a schedule.Config.
// Zero values fall through to the scheduler's own defaults.
func (c *Config) ScheduleConfig() schedule.Config {
	s := c.Scheduler
	return schedule.Config{
		Workers:              s.Workers,
		QueueCapacity:        s.QueueCapacity,
		PollInterval:         time.Duration(s.PollIntervalMS) * time.Millisecond,
		HardStopTimeout:      time.Duration(s.HardStopSeconds) * time.Second,
		GatePolicy:           state.GatePolicy(s.PeriodicGate),
		MaxDispatchPerSecond: s.MaxDispatchPerSecond,
	}
}

// GracePeriod returns how long shutdown waits for running jobs.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Scheduler.GracePeriodSeconds) * time.Second
}

// HistoryRetention returns the history retention window, 0 for unlimited.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Scheduler: {Workers: %d, Gate: %s}, History: {Enabled: %t, Path: %s}}",
		c.Scheduler.Workers, c.Scheduler.PeriodicGate, c.History.Enabled, c.History.Path)
}
