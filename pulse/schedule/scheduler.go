// Package schedule runs registered jobs at their fire times, in dependency
// order, on a bounded worker pool.
//
// A Scheduler is configured with RegisterJob, started once with Start, and
// stopped once with Shutdown. Jobs may be added or removed while it runs.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/graph"
	"github.com/teranos/pulsegraph/pulse/job"
	"github.com/teranos/pulsegraph/pulse/pool"
	"github.com/teranos/pulsegraph/pulse/state"
)

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	logger    *zap.SugaredLogger
	observers []pool.Observer
	timeNow   func() time.Time
	limiter   *rate.Limiter
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver adds an execution observer, such as the history store.
func WithObserver(obs pool.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithClock sets the clock used for execution timestamps (for testing).
func WithClock(timeNow func() time.Time) Option {
	return func(o *options) { o.timeNow = timeNow }
}

// WithRateLimit caps dispatches per second. It overrides
// Config.MaxDispatchPerSecond.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// Scheduler is the caller-facing scheduling engine.
type Scheduler struct {
	cfg      Config
	registry *job.Registry
	tracker  *state.Tracker
	pool     *pool.WorkerPool
	engine   *engine
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	return NewWithContext(context.Background(), cfg, opts...)
}

// NewWithContext creates a scheduler whose loop and job bodies are cancelled
// when ctx is.
func NewWithContext(ctx context.Context, cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()

	o := options{logger: logger.Logger, timeNow: time.Now}
	if cfg.MaxDispatchPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.MaxDispatchPerSecond), 1)
	}
	for _, opt := range opts {
		opt(&o)
	}

	registry := job.NewRegistry()
	tracker := state.NewTrackerWithClock(cfg.GatePolicy, o.timeNow)
	workers := pool.NewWithContext(ctx, cfg.poolConfig(), tracker, o.logger)
	for _, obs := range o.observers {
		workers.AddObserver(obs)
	}

	return &Scheduler{
		cfg:      cfg,
		registry: registry,
		tracker:  tracker,
		pool:     workers,
		engine:   newEngine(ctx, registry, tracker, workers, o.limiter, cfg, o.logger),
		logger:   o.logger,
		pulseLog: logger.AddPulseSymbol(o.logger),
	}
}

// RegisterJob declares a job. Before Start, dependencies may be declared in
// any order. After Start, every dependency must already be registered and the
// job is armed at now + InitialDelay.
func (s *Scheduler) RegisterJob(spec job.Spec, fn job.Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.Wrapf(errors.ErrNotRunning, "register job %q", spec.Name)
	}

	if !s.started {
		if err := s.registry.Register(spec, fn); err != nil {
			return err
		}
		if err := s.tracker.Register(spec); err != nil {
			s.unregister(spec.Name)
			return err
		}
		return nil
	}

	// The engine creates the execution record inside its loop, so a refused
	// add leaves no Pending record behind.
	if err := s.registry.RegisterResolved(spec, fn); err != nil {
		return err
	}
	if err := s.engine.submit(controlRequest{kind: controlAdd, name: spec.Name}); err != nil {
		s.unregister(spec.Name)
		return err
	}
	return nil
}

// unregister rolls back a registration the tracker or engine refused. The
// loop may have created a record before the scheduler stopped; it is retired.
func (s *Scheduler) unregister(name string) {
	if err := s.registry.Remove(name); err != nil {
		s.logger.Warnw("Failed to roll back job registration", logger.FieldJob, name, logger.FieldError, err)
	}
	if err := s.tracker.Retire(name); err != nil && !errors.Is(err, errors.ErrUnknownJob) {
		s.logger.Warnw("Failed to retire job", logger.FieldJob, name, logger.FieldError, err)
	}
}

// RemoveJob removes a job nothing else depends on. A run in progress
// finishes but the job is not armed again. Its record stays queryable,
// marked Retired.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.Wrapf(errors.ErrNotRunning, "remove job %q", name)
	}
	if err := s.registry.Remove(name); err != nil {
		return err
	}

	if !s.started {
		return s.tracker.Retire(name)
	}
	return s.engine.submit(controlRequest{kind: controlRemove, name: name})
}

// Start resolves the dependency graph, arms every job and begins evaluation.
// A cyclic job set fails with a *errors.CycleError naming the cycle, and
// nothing runs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.ErrNotRunning
	}
	if s.started {
		return errors.ErrAlreadyStarted
	}

	order, err := graph.Resolve(s.registry.Specs())
	if err != nil {
		s.pulseLog.Errorw("Refusing to start: job graph is invalid", logger.FieldError, err)
		return err
	}

	s.pool.Start()
	s.engine.start(order, time.Now())
	s.started = true
	return nil
}

// Resolve returns the execution order of the registered jobs without
// starting anything.
func (s *Scheduler) Resolve() ([]string, error) {
	order, err := graph.Resolve(s.registry.Specs())
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, spec := range order {
		names[i] = spec.Name
	}
	return names, nil
}

// QueryStatus returns a snapshot of a job's execution record.
func (s *Scheduler) QueryStatus(name string) (state.Record, error) {
	return s.tracker.Snapshot(name)
}

// Statuses returns snapshots of every record in registration order.
func (s *Scheduler) Statuses() []state.Record {
	return s.tracker.Snapshots()
}

// Order returns the most recently resolved execution order.
func (s *Scheduler) Order() []string {
	return s.engine.Order()
}

// Jobs returns the registered specs in registration order.
func (s *Scheduler) Jobs() []job.Spec {
	return s.registry.Specs()
}

// Running reports whether the scheduler has started and not yet shut down.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// PoolStats returns worker pool counters.
func (s *Scheduler) PoolStats() pool.Stats {
	return s.pool.Stats()
}

// SystemMetrics returns worker and host memory usage.
func (s *Scheduler) SystemMetrics() pool.SystemMetrics {
	return s.pool.GetSystemMetrics()
}

// GetStats returns engine statistics
func (s *Scheduler) GetStats() map[string]interface{} {
	return s.engine.GetStats()
}

// Shutdown stops arming jobs, drops queued work and gives running jobs grace
// to finish before cancelling them. It may be called once; later calls
// return ErrNotRunning.
func (s *Scheduler) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.ErrNotRunning
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.pulseLog.Infow("Scheduler shutting down", "grace", grace)

	if started {
		s.engine.stop()
	} else {
		s.engine.cancel()
	}
	err := s.pool.Shutdown(grace)
	if errors.Is(err, pool.ErrPoolClosed) {
		err = nil
	}

	_ = s.logger.Sync()
	if err != nil {
		return errors.Wrap(err, "scheduler shutdown")
	}
	return nil
}
