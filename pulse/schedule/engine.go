package schedule

import (
	"context"
	"fmt"
	"strings"
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
	"github.com/teranos/pulsegraph/sym"
)

// errRateLimited means the dispatch limiter had no token; the entry stays Firing.
var errRateLimited = errors.New("dispatch rate limit reached")

type controlKind int

const (
	controlAdd controlKind = iota
	controlRemove
)

// controlRequest carries a job-set change made after Start into the loop.
type controlRequest struct {
	kind controlKind
	name string
	resp chan error
}

// engine is the single evaluation loop. It owns every schedule entry; all
// other goroutines talk to it through channels.
type engine struct {
	registry     *job.Registry
	tracker      *state.Tracker
	pool         *pool.WorkerPool
	limiter      *rate.Limiter // nil means unlimited
	pollInterval time.Duration

	entries     map[string]*entry // loop goroutine only
	draining    map[string]string // removed job → execution still in the pool; loop goroutine only
	order       []string          // resolved order; loop goroutine only
	completions chan pool.Result
	control     chan controlRequest

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger // Logger with Pulse symbol pre-attached

	mu             sync.Mutex
	publishedOrder []string
	counts         map[entryState]int
	lastPassAt     time.Time
	passes         int64
	nextFireAt     time.Time
}

func newEngine(ctx context.Context, registry *job.Registry, tracker *state.Tracker, workers *pool.WorkerPool, limiter *rate.Limiter, cfg Config, log *zap.SugaredLogger) *engine {
	engineCtx, cancel := context.WithCancel(ctx)
	named := log.Named("engine")

	return &engine{
		registry:     registry,
		tracker:      tracker,
		pool:         workers,
		limiter:      limiter,
		pollInterval: cfg.PollInterval,
		entries:      make(map[string]*entry),
		draining:     make(map[string]string),
		completions:  make(chan pool.Result, cfg.Workers+cfg.QueueCapacity),
		control:      make(chan controlRequest),
		ctx:          engineCtx,
		cancel:       cancel,
		logger:       named,
		pulseLog:     logger.AddPulseSymbol(named),
		counts:       make(map[entryState]int),
	}
}

// start arms every job in order and launches the loop.
func (e *engine) start(order []job.Spec, now time.Time) {
	e.order = make([]string, 0, len(order))
	for _, spec := range order {
		e.order = append(e.order, spec.Name)
		e.entries[spec.Name] = newEntry(spec, now.Add(spec.InitialDelay))
	}
	e.publish(now)

	e.wg.Add(1)
	go e.run()
	logger.AddPulseOpenSymbol(e.logger).Infow("Scheduling engine started",
		logger.FieldCount, len(order),
		logger.FieldOrder, strings.Join(e.order, " → "),
		"poll_interval", e.pollInterval)
}

// stop ends the loop and retires every entry. Safe to call once.
func (e *engine) stop() {
	e.cancel()
	e.wg.Wait()

	for name := range e.entries {
		if err := e.tracker.Retire(name); err != nil {
			e.logger.Warnw("Failed to retire job at shutdown", logger.FieldJob, name, logger.FieldError, err)
		}
	}
	e.entries = make(map[string]*entry)
	e.publish(time.Now())
	logger.AddPulseCloseSymbol(e.logger).Infow("Scheduling engine stopped")
}

// submit hands a control request to the loop and waits for its answer.
func (e *engine) submit(req controlRequest) error {
	req.resp = make(chan error, 1)
	select {
	case e.control <- req:
	case <-e.ctx.Done():
		return errors.ErrNotRunning
	}
	select {
	case err := <-req.resp:
		return err
	case <-e.ctx.Done():
		return errors.ErrNotRunning
	}
}

// onDone is the pool completion callback. It runs on a worker goroutine.
func (e *engine) onDone(r pool.Result) {
	select {
	case e.completions <- r:
	case <-e.ctx.Done():
	}
}

// run is the main evaluation loop
func (e *engine) run() {
	defer e.wg.Done()

	wake := time.NewTimer(time.Hour)
	defer wake.Stop()
	poll := time.NewTicker(e.pollInterval)
	defer poll.Stop()

	for {
		now := time.Now()
		e.evaluate(now)
		e.resetWake(wake, now)
		e.publish(now)

		select {
		case <-e.ctx.Done():
			return
		case <-wake.C:
		case <-poll.C:
		case r := <-e.completions:
			e.handleCompletion(r)
		case req := <-e.control:
			err := e.apply(req)
			e.publish(time.Now())
			req.resp <- err
		}
	}
}

// evaluate walks entries in resolved order, firing due entries and
// dispatching Firing entries whose gate is open.
func (e *engine) evaluate(now time.Time) {
	for _, name := range e.order {
		ent, ok := e.entries[name]
		if !ok {
			continue
		}

		if ent.due(now) {
			ent.state = entryFiring
			ent.firedAt = now
			if err := e.tracker.MarkEligible(name); err != nil {
				e.logger.Errorw("Failed to mark job eligible", logger.FieldJob, name, logger.FieldError, err)
			}
			e.logger.Debugw("Job firing",
				logger.FieldJob, name,
				logger.FieldFireAt, ent.fireAt,
				logger.FieldFiredAt, ent.firedAt)
		}

		if ent.state == entryFiring {
			e.tryDispatch(ent, now)
		}
	}
}

func (e *engine) tryDispatch(ent *entry, now time.Time) {
	// At most one instance per job identity
	if e.tracker.IsRunning(ent.name) {
		return
	}

	if !e.tracker.AllDependenciesCompleted(ent.name) {
		ent.deferrals++
		if ent.deferrals == 1 {
			e.logger.Debugw("Job deferred: dependencies not completed",
				logger.FieldJob, ent.name,
				logger.FieldFireAt, ent.fireAt,
				logger.FieldFiredAt, ent.firedAt)
		}
		return
	}

	handle, err := e.submitLimited(pool.Task{
		Name:   ent.name,
		Run:    e.registry.Func(ent.name),
		OnDone: e.onDone,
	}, now)
	switch {
	case err == nil:
	case errors.Is(err, errRateLimited):
		return
	case errors.Is(err, pool.ErrQueueFull):
		// Backpressure: stay Firing, retry on the next pass
		return
	case errors.Is(err, pool.ErrPoolClosed):
		return
	default:
		e.logger.Errorw("Failed to dispatch job, retiring it",
			logger.FieldJob, ent.name,
			logger.FieldError, err)
		e.retire(ent)
		return
	}

	ent.state = entryDispatched
	ent.executionID = handle.ID()
	e.logger.Debugw("Job dispatched",
		logger.FieldJob, ent.name,
		logger.FieldExecutionID, ent.executionID,
		logger.FieldFireAt, ent.fireAt,
		logger.FieldFiredAt, ent.firedAt,
		logger.FieldDeferrals, ent.deferrals,
		"latency_ms", now.Sub(ent.fireAt).Milliseconds())
}

// submitLimited hands task to the pool if the dispatch limiter allows it at
// now. The limiter token is returned when the pool does not admit the task.
func (e *engine) submitLimited(task pool.Task, now time.Time) (*pool.Handle, error) {
	if e.limiter == nil {
		return e.pool.Submit(task)
	}

	reservation := e.limiter.ReserveN(now, 1)
	if !reservation.OK() || reservation.DelayFrom(now) > 0 {
		reservation.CancelAt(now)
		return nil, errRateLimited
	}
	handle, err := e.pool.Submit(task)
	if err != nil {
		reservation.CancelAt(now)
		return nil, err
	}
	return handle, nil
}

// handleCompletion re-arms periodic entries and retires the rest.
func (e *engine) handleCompletion(r pool.Result) {
	if id, ok := e.draining[r.Name]; ok && id == r.ExecutionID {
		delete(e.draining, r.Name)
	}

	ent, ok := e.entries[r.Name]
	if !ok || ent.executionID != r.ExecutionID {
		// Removed while running, or a run from an earlier registration
		return
	}

	switch r.Outcome {
	case pool.OutcomeCancelled:
		return
	case pool.OutcomeInvalidTransition:
		e.logger.Errorw("Job lifecycle violation, retiring entry",
			logger.FieldJob, r.Name,
			logger.FieldExecutionID, r.ExecutionID,
			logger.FieldError, r.Err)
		e.retire(ent)
		return
	}

	fields := []interface{}{
		logger.FieldJob, r.Name,
		logger.FieldExecutionID, r.ExecutionID,
		logger.FieldOutcome, r.Outcome,
		logger.FieldDurationMS, r.Duration().Milliseconds(),
	}

	if !ent.spec.Periodic {
		if r.Outcome == pool.OutcomeFailed {
			fields = append(fields, logger.FieldError, r.Err)
			if dependents := e.registry.Dependents(r.Name); len(dependents) > 0 {
				fields = append(fields, "blocked_dependents", dependents)
			}
			e.pulseLog.Warnw("Job failed", fields...)
		} else {
			e.pulseLog.Infow("Job completed", fields...)
		}
		e.retire(ent)
		return
	}

	ent.rearm(r.EndedAt)
	fields = append(fields, logger.FieldNextFireAt, ent.fireAt)
	if r.Outcome == pool.OutcomeFailed {
		fields = append(fields, logger.FieldError, r.Err)
		e.pulseLog.Warnw("Periodic job failed, re-armed", fields...)
		return
	}
	e.pulseLog.Infow("Periodic job completed, re-armed", fields...)
}

// apply runs a control request inside the loop.
func (e *engine) apply(req controlRequest) error {
	switch req.kind {
	case controlAdd:
		spec, ok := e.registry.Get(req.name)
		if !ok {
			return errors.Wrapf(errors.ErrUnknownJob, "job %q", req.name)
		}
		if id, busy := e.draining[spec.Name]; busy {
			return errors.WithHint(
				errors.Wrapf(errors.ErrInvalidTransition, "job %q: execution %s of the removed job has not finished", spec.Name, id),
				"wait for the previous run to finish before registering the job again")
		}
		if err := e.tracker.Register(spec); err != nil {
			return err
		}
		if err := e.resolve(); err != nil {
			if retireErr := e.tracker.Retire(spec.Name); retireErr != nil {
				e.logger.Warnw("Failed to retire job", logger.FieldJob, spec.Name, logger.FieldError, retireErr)
			}
			return err
		}
		ent := newEntry(spec, time.Now().Add(spec.InitialDelay))
		e.entries[spec.Name] = ent
		e.pulseLog.Infow("Job added",
			logger.FieldJob, spec.Name,
			logger.FieldFireAt, ent.fireAt)
		return nil

	case controlRemove:
		if ent, ok := e.entries[req.name]; ok {
			if ent.state == entryDispatched {
				e.draining[ent.name] = ent.executionID
			}
			e.retire(ent)
		} else if err := e.tracker.Retire(req.name); err != nil {
			return err
		}
		if err := e.resolve(); err != nil {
			return err
		}
		e.pulseLog.Infow("Job removed", logger.FieldJob, req.name)
		return nil
	}
	return errors.AssertionFailedf("unknown control request %d", req.kind)
}

// resolve recomputes the order from the registry.
func (e *engine) resolve() error {
	order, err := graph.Resolve(e.registry.Specs())
	if err != nil {
		return errors.Wrap(err, "failed to resolve job graph")
	}
	e.order = e.order[:0]
	for _, spec := range order {
		e.order = append(e.order, spec.Name)
	}
	return nil
}

func (e *engine) retire(ent *entry) {
	ent.state = entryRetired
	delete(e.entries, ent.name)
	if err := e.tracker.Retire(ent.name); err != nil {
		e.logger.Warnw("Failed to retire job", logger.FieldJob, ent.name, logger.FieldError, err)
	}
}

// resetWake points the wake timer at the earliest armed fire time.
func (e *engine) resetWake(wake *time.Timer, now time.Time) {
	var next time.Time
	for _, ent := range e.entries {
		if ent.state != entryArmed {
			continue
		}
		if next.IsZero() || ent.fireAt.Before(next) {
			next = ent.fireAt
		}
	}

	if next.IsZero() {
		wake.Stop()
	} else {
		wake.Reset(max(next.Sub(now), 0))
	}

	e.logNextFire(next, now)
}

// logNextFire logs the time until the next armed entry, only when it changes
func (e *engine) logNextFire(next, now time.Time) {
	e.mu.Lock()
	changed := !next.Equal(e.nextFireAt)
	e.nextFireAt = next
	e.mu.Unlock()

	if !changed {
		return
	}

	if next.IsZero() {
		e.pulseLog.Debugw("Pulse - no armed jobs")
		return
	}

	metrics := e.pool.GetSystemMetrics()
	e.pulseLog.Debugw(fmt.Sprintf("%s Pulse - next fire in %s │ Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
		sym.Pulse, next.Sub(now).Round(time.Millisecond),
		metrics.WorkersActive, metrics.WorkersTotal,
		metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent),
		logger.FieldNextFireAt, next)
}

// publish copies loop-owned state for readers on other goroutines.
func (e *engine) publish(now time.Time) {
	counts := make(map[entryState]int, 4)
	for _, ent := range e.entries {
		counts[ent.state]++
	}
	order := make([]string, len(e.order))
	copy(order, e.order)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishedOrder = order
	e.counts = counts
	e.lastPassAt = now
	e.passes++
}

// Order returns the last resolved order.
func (e *engine) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.publishedOrder))
	copy(out, e.publishedOrder)
	return out
}

// GetStats returns engine statistics
func (e *engine) GetStats() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	return map[string]interface{}{
		"last_pass_at":  e.lastPassAt,
		"passes":        e.passes,
		"poll_interval": e.pollInterval,
		"armed":         e.counts[entryArmed],
		"firing":        e.counts[entryFiring],
		"dispatched":    e.counts[entryDispatched],
		"next_fire_at":  e.nextFireAt,
	}
}
