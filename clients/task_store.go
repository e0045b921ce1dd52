package clients

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/reelforge/reel-worker/config"
	xerrors "github.com/reelforge/reel-worker/errors"
	"github.com/reelforge/reel-worker/log"
	"github.com/reelforge/reel-worker/metrics"
	"github.com/reelforge/reel-worker/schema"
)

var ErrTaskNotFound = errors.New("task not found")

// ErrTerminalTask is returned when a status update targets a task that has
// already finished or failed. The row is left untouched.
var ErrTerminalTask = errors.New("task is already in a terminal state")

// TaskStore persists tasks, users and the credit ledger in Postgres.
type TaskStore struct {
	db    *sql.DB
	clock config.TimestampGenerator
}

func NewTaskStore(databaseURL string) (*TaskStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &TaskStore{db: db, clock: config.Clock}, nil
}

// NewTaskStoreWithDB wraps an existing handle; tests pass a sqlmock here.
func NewTaskStoreWithDB(db *sql.DB, clock config.TimestampGenerator) *TaskStore {
	return &TaskStore{db: db, clock: clock}
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}

func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*schema.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, spec, user_key, created_at, started_at, finished_at, updated_at, result, error, log_url
		FROM tasks WHERE id = $1`, taskID)

	var task schema.Task
	var specJSON []byte
	var resultJSON, taskErr, logURL sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&task.ID, &task.Status, &specJSON, &task.UserKey, &task.CreatedAt,
		&startedAt, &finishedAt, &task.UpdatedAt, &resultJSON, &taskErr, &logURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}

	if err := json.Unmarshal(specJSON, &task.Spec); err != nil {
		return nil, xerrors.NewInputInvalidError("task %s has an unparseable spec: %s", taskID, err)
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result schema.TaskResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			task.Result = &result
		}
	}
	task.Error = taskErr.String
	task.LogURL = logURL.String
	return &task, nil
}

func (s *TaskStore) CreateTask(ctx context.Context, task *schema.Task) error {
	specJSON, err := json.Marshal(task.Spec)
	if err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, status, spec, user_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		task.ID, schema.TaskQueued, specJSON, task.UserKey, now)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateTaskStatus moves a task through its lifecycle. started_at and
// finished_at are write-once via COALESCE, and rows already in a terminal
// state are never modified.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status schema.TaskStatus, result *schema.TaskResult, taskErr string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid task status %q", status)
	}
	now := s.clock.Now().UTC()

	var resultJSON any
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resultJSON = string(data)
	}

	var startedAt, finishedAt any
	if status == schema.TaskInProgress {
		startedAt = now
	}
	if status.IsTerminal() {
		finishedAt = now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = $2,
			started_at = COALESCE(started_at, $3),
			finished_at = COALESCE(finished_at, $4),
			result = COALESCE($5, result),
			error = COALESCE($6, error),
			updated_at = $7
		WHERE id = $1 AND status NOT IN ('finished', 'failed')`,
		taskID, status, startedAt, finishedAt, resultJSON, nullIfEmpty(taskErr), now)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := s.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if existing.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminalTask, taskID, existing.Status)
		}
		return fmt.Errorf("task %s update affected no rows", taskID)
	}
	return nil
}

func (s *TaskStore) SetTaskLogURL(ctx context.Context, taskID, logURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET log_url = $2, updated_at = $3 WHERE id = $1`,
		taskID, logURL, s.clock.Now().UTC())
	return err
}

func (s *TaskStore) GetUserByAPIKey(ctx context.Context, apiKey string) (*schema.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, api_key, credits FROM users WHERE api_key = $1`, apiKey)
	var user schema.User
	if err := row.Scan(&user.Key, &user.APIKey, &user.Credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no user for the given api key")
		}
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	return &user, nil
}

// UpdateCredits applies delta to the user's balance and appends a ledger row,
// both inside one transaction. Negative balances are allowed for refund
// mismatches; the ledger is the source of truth for reconciliation.
func (s *TaskStore) UpdateCredits(ctx context.Context, userKey string, delta int, reason, taskID string) error {
	op := "debit"
	if delta > 0 {
		op = "refund"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.CreditOps.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("failed to begin credits tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + $2 WHERE key = $1`, userKey, delta); err != nil {
		metrics.CreditOps.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("failed to update credits for %s: %w", userKey, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (user_key, delta, reason, task_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		userKey, delta, reason, taskID, s.clock.Now().UTC()); err != nil {
		metrics.CreditOps.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("failed to append credit ledger row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		metrics.CreditOps.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("failed to commit credits tx: %w", err)
	}
	metrics.CreditOps.WithLabelValues(op, "success").Inc()
	return nil
}

// ListStuckTasks returns queued or in_progress tasks created before the
// cutoff. The reconciler fails these.
func (s *TaskStore) ListStuckTasks(ctx context.Context, olderThan time.Duration) ([]*schema.Task, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, spec, user_key, created_at FROM tasks
		WHERE status IN ('queued', 'in_progress') AND created_at < $1
		ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		var task schema.Task
		var specJSON []byte
		if err := rows.Scan(&task.ID, &task.Status, &specJSON, &task.UserKey, &task.CreatedAt); err != nil {
			return nil, err
		}
		// the spec is needed to compute the refund amount
		if err := json.Unmarshal(specJSON, &task.Spec); err != nil {
			log.Log(task.ID, "stuck task has an unparseable spec", "err", err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// ListRecentlyFailed returns failed tasks finished within the window, for
// grouped failure notifications.
func (s *TaskStore) ListRecentlyFailed(ctx context.Context, window time.Duration) ([]*schema.Task, error) {
	cutoff := s.clock.Now().UTC().Add(-window)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_key, error, log_url, finished_at FROM tasks
		WHERE status = 'failed' AND finished_at IS NOT NULL AND finished_at >= $1
		ORDER BY finished_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		var task schema.Task
		var taskErr, logURL sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&task.ID, &task.UserKey, &taskErr, &logURL, &finishedAt); err != nil {
			return nil, err
		}
		task.Status = schema.TaskFailed
		task.Error = taskErr.String
		task.LogURL = logURL.String
		if finishedAt.Valid {
			task.FinishedAt = &finishedAt.Time
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
