package am

import (
	"github.com/spf13/viper"
)

// Default values, shared with Validate's error messages and the CLI.
const (
	DefaultWorkers            = 4
	DefaultQueueCapacity      = 16
	DefaultPollIntervalMS     = 100
	DefaultGracePeriodSeconds = 10
	DefaultHardStopSeconds    = 5
	DefaultPeriodicGate       = "first_completion"
	DefaultHistoryPath        = "pulsegraph.db"
	DefaultRetentionDays      = 90
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Scheduler defaults
	v.SetDefault("scheduler.workers", DefaultWorkers)
	v.SetDefault("scheduler.queue_capacity", DefaultQueueCapacity)
	v.SetDefault("scheduler.poll_interval_ms", DefaultPollIntervalMS)
	v.SetDefault("scheduler.grace_period_seconds", DefaultGracePeriodSeconds)
	v.SetDefault("scheduler.hard_stop_seconds", DefaultHardStopSeconds)
	v.SetDefault("scheduler.periodic_gate", DefaultPeriodicGate)
	v.SetDefault("scheduler.max_dispatch_per_second", 0.0) // Unlimited

	// History defaults
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", DefaultHistoryPath)
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("log.json", false)
}

// BindEnvVars binds settings whose environment names don't follow the
// PULSEGRAPH_SECTION_KEY pattern
func BindEnvVars(v *viper.Viper) {
	v.BindEnv("history.path", "PULSEGRAPH_HISTORY_PATH", "PULSEGRAPH_DB_PATH")
	v.BindEnv("scheduler.workers", "PULSEGRAPH_SCHEDULER_WORKERS", "PULSEGRAPH_WORKERS")
}
