// Package errors provides error handling for pulsegraph.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// It also defines the scheduler's error taxonomy. Structural errors
// (ErrDuplicateJob, ErrUnknownDependency, ErrCycleDetected) are raised
// synchronously at registration or resolution time. ErrInvalidTransition
// signals a double dispatch and is fatal to one job instance only.
//
// Usage:
//
//	if errors.Is(err, errors.ErrCycleDetected) {
//	    var cycle *errors.CycleError
//	    if errors.As(err, &cycle) {
//	        fmt.Println(cycle.Jobs)
//	    }
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Scheduler error taxonomy.
// Use these with errors.Is(); wrap them with errors.Wrap() to add context.
var (
	// ErrDuplicateJob indicates a job name is already registered
	ErrDuplicateJob = New("duplicate job")

	// ErrUnknownDependency indicates a dependency names a job that is not registered
	ErrUnknownDependency = New("unknown dependency")

	// ErrUnknownJob indicates a status query or removal for an unregistered job
	ErrUnknownJob = New("unknown job")

	// ErrCycleDetected indicates the dependency graph contains a cycle
	ErrCycleDetected = New("cycle detected")

	// ErrInvalidTransition indicates an illegal execution state change (e.g. double dispatch)
	ErrInvalidTransition = New("invalid transition")

	// ErrInvalidSpec indicates a malformed job declaration
	ErrInvalidSpec = New("invalid job spec")

	// ErrHasDependents indicates a job cannot be removed while other jobs depend on it
	ErrHasDependents = New("job has dependents")

	// ErrAlreadyStarted indicates Start was called twice
	ErrAlreadyStarted = New("scheduler already started")

	// ErrNotRunning indicates an operation that requires a running scheduler
	ErrNotRunning = New("scheduler not running")
)

// CycleError reports the jobs that lie on dependency cycles.
// It matches ErrCycleDetected under errors.Is.
type CycleError struct {
	Jobs []string
}

// NewCycleError builds a CycleError carrying a hint for the operator.
func NewCycleError(jobs []string) error {
	members := make([]string, len(jobs))
	copy(members, jobs)
	return WithHint(&CycleError{Jobs: members},
		"remove one dependency edge between the listed jobs")
}

func (e *CycleError) Error() string {
	return "cycle detected involving jobs: " + strings.Join(e.Jobs, ", ")
}

// Unwrap lets errors.Is(err, ErrCycleDetected) succeed.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// CycleMembers extracts the cycle membership from err, if any.
func CycleMembers(err error) ([]string, bool) {
	var cycle *CycleError
	if !As(err, &cycle) {
		return nil, false
	}
	return cycle.Jobs, true
}

// IsStructural reports whether err is a configuration error that must be
// fixed before the scheduler can run.
func IsStructural(err error) bool {
	return err != nil && IsAny(err,
		ErrDuplicateJob,
		ErrUnknownDependency,
		ErrCycleDetected,
		ErrInvalidSpec,
	)
}
