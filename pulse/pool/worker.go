package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/state"
)

// pulseLogger carries one logger per lifecycle glyph.
// - Starting → PulseOpen (✿), DEBUG
// - Closed → PulseClose (❀), INFO; Closing → PulseClose, WARN
// - everything else → Pulse (꩜)
type pulseLogger struct {
	*zap.SugaredLogger
	open  *zap.SugaredLogger
	close *zap.SugaredLogger
}

func newPulseLogger(l *zap.SugaredLogger) pulseLogger {
	return pulseLogger{
		SugaredLogger: logger.AddPulseSymbol(l),
		open:          logger.AddPulseOpenSymbol(l),
		close:         logger.AddPulseCloseSymbol(l),
	}
}

// Starting logs an opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.open.Debugw(msg, keysAndValues...)
}

// Closed logs an orderly closing (❀) event
func (l pulseLogger) Closed(msg string, keysAndValues ...interface{}) {
	l.close.Infow(msg, keysAndValues...)
}

// Closing logs a closing (❀) event that needed force
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.close.Warnw(msg, keysAndValues...)
}

// Config contains configuration for the worker pool
type Config struct {
	Workers         int           `json:"workers"`           // Number of concurrent workers
	QueueCapacity   int           `json:"queue_capacity"`    // Admitted tasks waiting for a worker
	HardStopTimeout time.Duration `json:"hard_stop_timeout"` // Extra wait after cancelling bodies at shutdown
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueCapacity:   16,
		HardStopTimeout: 5 * time.Second,
	}
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers       int
	ActiveWorkers int
	Queued        int
	Submitted     int64
	Rejected      int64 // ErrQueueFull returns
	Succeeded     int64
	Failed        int64
	Cancelled     int64
	Refused       int64 // starts refused by the recorder
}

type queuedTask struct {
	task   Task
	handle *Handle
}

// WorkerPool executes tasks on a fixed number of workers.
// Submit never blocks: a full queue is reported as ErrQueueFull.
type WorkerPool struct {
	cfg       Config
	recorder  Recorder
	observers []Observer
	queue     chan queuedTask
	ctx       context.Context // run context handed to job bodies
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    pulseLogger

	mu            sync.Mutex
	started       bool
	closed        bool
	activeWorkers int

	draining  atomic.Bool
	submitted atomic.Int64
	rejected  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	refused   atomic.Int64
}

// New creates a worker pool. recorder may be nil.
func New(cfg Config, recorder Recorder, log *zap.SugaredLogger) *WorkerPool {
	return NewWithContext(context.Background(), cfg, recorder, log)
}

// NewWithContext creates a worker pool whose run context derives from ctx.
// Cancelling ctx cancels every running body.
func NewWithContext(ctx context.Context, cfg Config, recorder Recorder, log *zap.SugaredLogger) *WorkerPool {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}
	if cfg.HardStopTimeout <= 0 {
		cfg.HardStopTimeout = defaults.HardStopTimeout
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if log == nil {
		log = logger.Logger
	}

	runCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		cfg:      cfg,
		recorder: recorder,
		queue:    make(chan queuedTask, cfg.QueueCapacity),
		ctx:      runCtx,
		cancel:   cancel,
		logger:   newPulseLogger(log.Named("pool")),
	}
}

// AddObserver registers an observer. Call before Start.
func (wp *WorkerPool) AddObserver(o Observer) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.observers = append(wp.observers, o)
}

// Start launches the workers. Calling it again is a no-op.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.closed {
		return
	}
	wp.started = true

	if warning := checkMemoryPressure(wp.cfg.Workers); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, logger.FieldCount, wp.cfg.Workers)
	}

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Starting("Worker pool started",
		"workers", wp.cfg.Workers,
		"queue_capacity", wp.cfg.QueueCapacity)
}

// Submit admits a task without blocking. It returns ErrQueueFull when the
// queue is at capacity and ErrPoolClosed once shutdown has begun.
func (wp *WorkerPool) Submit(task Task) (*Handle, error) {
	if task.Run == nil {
		return nil, errors.Wrapf(errors.ErrInvalidSpec, "task %q: nil job function", task.Name)
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return nil, ErrPoolClosed
	}

	handle := newHandle(uuid.NewString(), task.Name)
	select {
	case wp.queue <- queuedTask{task: task, handle: handle}:
		wp.submitted.Add(1)
		return handle, nil
	default:
		wp.rejected.Add(1)
		return nil, ErrQueueFull
	}
}

// Shutdown stops admission, drops queued tasks, and waits for running bodies.
// Bodies get grace to finish on their own; then their context is cancelled
// and they get HardStopTimeout more before ErrShutdownTimeout is returned.
func (wp *WorkerPool) Shutdown(grace time.Duration) error {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return ErrPoolClosed
	}
	wp.closed = true
	wp.draining.Store(true)
	close(wp.queue)
	started := wp.started
	wp.mu.Unlock()

	defer wp.cancel()

	if !started {
		for qt := range wp.queue {
			wp.drop(qt)
		}
		wp.logger.Closed("Worker pool closed before start")
		return nil
	}

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Closed("Worker pool shutdown complete - all workers exited cleanly")
		return nil
	case <-time.After(grace):
	}

	wp.logger.Closing("Grace period elapsed, cancelling running jobs",
		"grace", grace,
		"active", wp.ActiveWorkers())
	wp.cancel()

	select {
	case <-done:
		wp.logger.Closed("Worker pool shutdown complete after cancellation")
		return nil
	case <-time.After(wp.cfg.HardStopTimeout):
		wp.logger.Closing("Worker pool shutdown timeout - job bodies ignored cancellation",
			"timeout", wp.cfg.HardStopTimeout,
			"active", wp.ActiveWorkers())
		return errors.WithDetailf(ErrShutdownTimeout, "%d job(s) still running", wp.ActiveWorkers())
	}
}

// Context returns the run context handed to job bodies.
func (wp *WorkerPool) Context() context.Context {
	return wp.ctx
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.cfg.Workers
}

// ActiveWorkers returns the number of workers currently running a body.
func (wp *WorkerPool) ActiveWorkers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.activeWorkers
}

// Stats returns pool counters.
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Workers:       wp.cfg.Workers,
		ActiveWorkers: wp.ActiveWorkers(),
		Queued:        len(wp.queue),
		Submitted:     wp.submitted.Load(),
		Rejected:      wp.rejected.Load(),
		Succeeded:     wp.succeeded.Load(),
		Failed:        wp.failed.Load(),
		Cancelled:     wp.cancelled.Load(),
		Refused:       wp.refused.Load(),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for qt := range wp.queue {
		if wp.draining.Load() {
			wp.drop(qt)
			continue
		}
		wp.execute(id, qt)
	}
}

// execute runs one task: record start, run the body, record completion,
// notify observers, resolve the handle, then call OnDone.
func (wp *WorkerPool) execute(workerID int, qt queuedTask) {
	name := qt.task.Name
	result := Result{
		ExecutionID: qt.handle.id,
		Name:        name,
		WorkerID:    workerID,
	}

	if err := wp.recorder.RecordStart(name); err != nil {
		wp.refused.Add(1)
		result.Outcome = OutcomeInvalidTransition
		result.Err = err
		wp.logger.Errorw("Job start refused",
			logger.FieldJob, name,
			logger.FieldExecutionID, result.ExecutionID,
			logger.FieldError, err)
		wp.finish(qt, result)
		return
	}

	wp.mu.Lock()
	wp.activeWorkers++
	observers := wp.observers
	wp.mu.Unlock()

	result.StartedAt = time.Now()
	for _, o := range observers {
		o.ExecutionStarted(result.ExecutionID, name, result.StartedAt)
	}
	wp.logger.Debugw("Job started",
		logger.FieldJob, name,
		logger.FieldExecutionID, result.ExecutionID,
		logger.FieldWorkerID, workerID)

	runErr := wp.run(qt.task)
	result.EndedAt = time.Now()

	wp.mu.Lock()
	wp.activeWorkers--
	wp.mu.Unlock()

	trackerOutcome := state.OutcomeSucceeded
	if runErr != nil {
		result.Outcome = OutcomeFailed
		result.Err = runErr
		trackerOutcome = state.OutcomeFailed
		wp.failed.Add(1)
		wp.logger.Warnw("Job failed",
			logger.FieldJob, name,
			logger.FieldExecutionID, result.ExecutionID,
			logger.FieldDurationMS, result.Duration().Milliseconds(),
			logger.FieldError, runErr)
	} else {
		result.Outcome = OutcomeSucceeded
		wp.succeeded.Add(1)
		wp.logger.Debugw("Job completed",
			logger.FieldJob, name,
			logger.FieldExecutionID, result.ExecutionID,
			logger.FieldDurationMS, result.Duration().Milliseconds())
	}

	if err := wp.recorder.RecordCompletion(name, trackerOutcome, runErr); err != nil {
		result.Outcome = OutcomeInvalidTransition
		result.Err = err
		wp.logger.Errorw("Job completion refused",
			logger.FieldJob, name,
			logger.FieldExecutionID, result.ExecutionID,
			logger.FieldError, err)
	}

	for _, o := range observers {
		o.ExecutionFinished(result)
	}
	wp.finish(qt, result)
}

// run invokes the body, converting a panic into an error.
func (wp *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job panicked: %v", r)
		}
	}()
	return task.Run(wp.ctx)
}

func (wp *WorkerPool) drop(qt queuedTask) {
	wp.cancelled.Add(1)
	wp.logger.Debugw("Dropping queued job at shutdown",
		logger.FieldJob, qt.task.Name,
		logger.FieldExecutionID, qt.handle.id)
	wp.finish(qt, Result{
		ExecutionID: qt.handle.id,
		Name:        qt.task.Name,
		Outcome:     OutcomeCancelled,
		Err:         ErrPoolClosed,
		WorkerID:    -1,
	})
}

func (wp *WorkerPool) finish(qt queuedTask, result Result) {
	qt.handle.resolve(result)
	if qt.task.OnDone != nil {
		qt.task.OnDone(result)
	}
}
