package history

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsegraph/db"
	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/logger"
	"github.com/teranos/pulsegraph/pulse/pool"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const executionColumns = `id, job_name, status, started_at, completed_at, duration_ms, error_message, created_at, updated_at`

// Store handles persistence of job execution history.
// It implements pool.Observer so it can be attached with schedule.WithObserver.
type Store struct {
	db      *sql.DB
	logger  *zap.SugaredLogger
	timeNow func() time.Time
}

var _ pool.Observer = (*Store)(nil)

// NewStore creates an execution store over a migrated database.
func NewStore(conn *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		db:      conn,
		logger:  logger.AddDBSymbol(log.Named("history")),
		timeNow: time.Now,
	}
}

// CreateExecution inserts a new execution row.
func (s *Store) CreateExecution(exec *Execution) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.JobName,
		exec.Status,
		exec.StartedAt,
		nullable(exec.CompletedAt),
		nullable(exec.DurationMs),
		nullable(exec.ErrorMessage),
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create execution %s", exec.ID)
	}
	return nil
}

// FinishExecution moves a running execution to its terminal status.
func (s *Store) FinishExecution(exec *Execution) error {
	result, err := s.db.Exec(`
		UPDATE executions
		SET status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ?`,
		exec.Status,
		nullable(exec.CompletedAt),
		nullable(exec.DurationMs),
		nullable(exec.ErrorMessage),
		exec.UpdatedAt,
		exec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", exec.ID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected == 0 {
		return errors.Newf("execution not found: %s", exec.ID)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(id string) (*Execution, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf("execution not found: %s", id)
		}
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return exec, nil
}

// ListExecutions returns the most recent executions of a job, newest first.
// An empty jobName lists every job. limit <= 0 means no limit.
func (s *Store) ListExecutions(jobName string, limit int) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var args []any
	if jobName != "" {
		query += ` WHERE job_name = ?`
		args = append(args, jobName)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating executions")
	}
	return executions, nil
}

// CountByStatus returns the number of executions per status.
func (s *Store) CountByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count executions")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution count")
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating execution counts")
	}
	return counts, nil
}

// CleanupOldExecutions deletes finished executions that started more than
// retention ago. Running rows are kept. Returns the number of rows deleted.
func (s *Store) CleanupOldExecutions(retention time.Duration) (int, error) {
	cutoff := formatTime(s.timeNow().Add(-retention))

	result, err := s.db.Exec(`DELETE FROM executions WHERE started_at < ? AND status != ?`, cutoff, StatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old executions")
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(deleted), nil
}

// ExecutionStarted records a running execution.
// Execution tracking is nice-to-have: failures are logged, never returned.
func (s *Store) ExecutionStarted(executionID, name string, startedAt time.Time) {
	now := formatTime(s.timeNow())
	exec := &Execution{
		ID:        executionID,
		JobName:   name,
		Status:    StatusRunning,
		StartedAt: formatTime(startedAt),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateExecution(exec); err != nil {
		s.logWriteFailure("record start", executionID, name, err)
	}
}

// ExecutionFinished records the outcome of an execution that was started.
// Cancelled outcomes never reach observers; anything else that is not a
// success is stored as failed.
func (s *Store) ExecutionFinished(result pool.Result) {
	completedAt := formatTime(result.EndedAt)
	durationMs := result.Duration().Milliseconds()
	exec := &Execution{
		ID:          result.ExecutionID,
		Status:      StatusCompleted,
		CompletedAt: &completedAt,
		DurationMs:  &durationMs,
		UpdatedAt:   formatTime(s.timeNow()),
	}
	if result.Outcome != pool.OutcomeSucceeded {
		exec.Status = StatusFailed
		if result.Err != nil {
			msg := result.Err.Error()
			exec.ErrorMessage = &msg
		}
	}
	if err := s.FinishExecution(exec); err != nil {
		s.logWriteFailure("record completion", result.ExecutionID, result.Name, err)
	}
}

func (s *Store) logWriteFailure(op, executionID, name string, err error) {
	fields := []any{
		logger.FieldExecutionID, executionID,
		logger.FieldJob, name,
		logger.FieldError, err,
	}
	switch {
	case db.IsDatabaseClosed(err):
		// Expected while the process shuts down
		s.logger.Debugw("History write skipped, database closed", fields...)
	case db.IsBusy(err):
		s.logger.Warnw("History write timed out on a locked database: "+op, fields...)
	default:
		s.logger.Warnw("Failed to "+op+" in history", fields...)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	var exec Execution
	var completedAt, errorMessage sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&exec.ID,
		&exec.JobName,
		&exec.Status,
		&exec.StartedAt,
		&completedAt,
		&durationMs,
		&errorMessage,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		exec.CompletedAt = &completedAt.String
	}
	if durationMs.Valid {
		exec.DurationMs = &durationMs.Int64
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}
	return &exec, nil
}

// nullable converts an optional field to a driver value, nil for NULL.
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
