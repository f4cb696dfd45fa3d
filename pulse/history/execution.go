// Package history persists an append-only audit log of job executions.
//
// Each execution the worker pool actually starts gets one row in the
// executions table: inserted as running, then updated when the body returns.
// The log is write-mostly; the scheduler never reads it back to restore state.
package history

// Execution is one persisted run of a job.
type Execution struct {
	ID      string `json:"id"` // pool execution ID (uuid)
	JobName string `json:"job_name"`
	Status  string `json:"status"` // running, completed, failed

	StartedAt   string  `json:"started_at"`             // UTC, fixed-width nanoseconds
	CompletedAt *string `json:"completed_at,omitempty"` // null while running
	DurationMs  *int64  `json:"duration_ms,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Execution status values stored in the status column.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Finished reports whether the execution has a terminal status.
func (e *Execution) Finished() bool {
	return e.Status == StatusCompleted || e.Status == StatusFailed
}
