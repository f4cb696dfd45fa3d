// Package pool runs job bodies on a fixed set of workers fed by a bounded
// admission queue.
package pool

import (
	"context"
	"time"

	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/pulse/job"
	"github.com/teranos/pulsegraph/pulse/state"
)

var (
	// ErrQueueFull means the admission queue is at capacity. Callers retry later.
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrPoolClosed means Shutdown has begun and no more tasks are admitted.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrShutdownTimeout means job bodies were still running after the grace
	// period and the hard-stop timeout.
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
)

// Outcome is how a task ended.
type Outcome string

const (
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomeFailed            Outcome = "failed"
	OutcomeCancelled         Outcome = "cancelled"          // dropped from the queue at shutdown, never started
	OutcomeInvalidTransition Outcome = "invalid_transition" // the recorder refused the start
)

// Task is one submission: a job body plus an optional completion callback.
type Task struct {
	Name   string
	Run    job.Func
	OnDone func(Result) // called from the worker goroutine; must not block
}

// Result describes a finished (or dropped) task.
type Result struct {
	ExecutionID string
	Name        string
	Outcome     Outcome
	Err         error
	WorkerID    int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Duration returns how long the body ran.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Recorder receives lifecycle transitions for every task that reaches a worker.
// *state.Tracker satisfies it.
type Recorder interface {
	RecordStart(name string) error
	RecordCompletion(name string, outcome state.Outcome, err error) error
}

// Observer is notified of executions that actually started.
type Observer interface {
	ExecutionStarted(executionID, name string, startedAt time.Time)
	ExecutionFinished(result Result)
}

// Handle tracks one submitted task.
type Handle struct {
	id     string
	name   string
	done   chan struct{}
	result Result
}

func newHandle(id, name string) *Handle {
	return &Handle{id: id, name: name, done: make(chan struct{})}
}

// ID returns the execution ID assigned at submission.
func (h *Handle) ID() string { return h.id }

// Name returns the job name.
func (h *Handle) Name() string { return h.name }

// Done is closed once the task finished or was dropped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the task result. Only meaningful after Done is closed.
func (h *Handle) Result() Result {
	select {
	case <-h.done:
		return h.result
	default:
		return Result{ExecutionID: h.id, Name: h.name}
	}
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) resolve(r Result) {
	h.result = r
	close(h.done)
}

type noopRecorder struct{}

func (noopRecorder) RecordStart(string) error { return nil }
func (noopRecorder) RecordCompletion(string, state.Outcome, error) error { return nil }
