package schedule

import (
	"time"

	"github.com/teranos/pulsegraph/pulse/pool"
	"github.com/teranos/pulsegraph/pulse/state"
)

// Config contains configuration for the scheduler
type Config struct {
	Workers              int              // Concurrent job bodies
	QueueCapacity        int              // Dispatched jobs waiting for a worker
	PollInterval         time.Duration    // Re-check interval for deferred and backpressured entries
	HardStopTimeout      time.Duration    // Extra wait after cancelling bodies at shutdown
	GatePolicy           state.GatePolicy // How periodic dependencies gate their dependents
	MaxDispatchPerSecond float64          // 0 means unlimited
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	poolDefaults := pool.DefaultConfig()
	return Config{
		Workers:         poolDefaults.Workers,
		QueueCapacity:   poolDefaults.QueueCapacity,
		PollInterval:    100 * time.Millisecond,
		HardStopTimeout: poolDefaults.HardStopTimeout,
		GatePolicy:      state.GateFirstCompletion,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HardStopTimeout <= 0 {
		c.HardStopTimeout = d.HardStopTimeout
	}
	if !c.GatePolicy.Valid() {
		c.GatePolicy = d.GatePolicy
	}
	return c
}

func (c Config) poolConfig() pool.Config {
	return pool.Config{
		Workers:         c.Workers,
		QueueCapacity:   c.QueueCapacity,
		HardStopTimeout: c.HardStopTimeout,
	}
}
