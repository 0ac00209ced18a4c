// Package store persists task records in SQLite. It is the sole writer
// of task state: every status change goes through Transition, which
// enforces the pending -> running -> completed|failed state machine
// inside a transaction, so a double-completion race loses cleanly with
// model.ErrInvalidTransition instead of overwriting history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scantaskd/scantaskd/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	target TEXT NOT NULL,
	command TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT DEFAULT NULL,
	error TEXT DEFAULT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT DEFAULT NULL,
	finished_at TEXT DEFAULT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`

// interruptedCause is written by startup reconciliation into tasks left
// running by an unclean shutdown.
const interruptedCause = "interrupted by restart"

// TransitionPayload carries the terminal outcome of a task. Exactly one
// of Result/Error is set for completed/failed, neither for running.
type TransitionPayload struct {
	Result *model.ScanResult
	Error  string
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the task database and reconciles
// tasks left running by a previous process: their supervising goroutine
// is gone, so they are failed with an "interrupted" cause.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening task database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing task schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.reconcile(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) reconcile(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET status = ?, error = ?, finished_at = ?
		 WHERE status = ?`,
		model.StatusFailed, interruptedCause,
		time.Now().UTC().Format(time.RFC3339Nano),
		model.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("reconciling interrupted tasks: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.WarnContext(ctx, "reconciled interrupted tasks", "count", n)
	}
	return nil
}

// Create inserts a new task row. The task must be pending.
func (s *Store) Create(ctx context.Context, t model.Task) error {
	command, err := json.Marshal(t.Command)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, type, target, command, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Target, string(command), t.Status,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns the task identified by id, or model.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, target, command, status, result, error,
		        created_at, started_at, finished_at
		 FROM tasks WHERE id = ?`, id,
	)
	return scanTask(row)
}

// Transition moves the task to status, storing the payload and stamping
// started_at/finished_at as appropriate. An illegal successor returns
// model.ErrInvalidTransition and changes nothing.
func (s *Store) Transition(ctx context.Context, id string, to model.Status, payload TransitionPayload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "transition rollback failed", "id", id, "error", err)
		}
	}()

	var current model.Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM tasks WHERE id = ?`, id,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.ErrNotFound
	case err != nil:
		return fmt.Errorf("reading task %s: %w", id, err)
	}

	if err := model.ValidateTransition(current, to); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch to {
	case model.StatusRunning:
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, started_at = ? WHERE id = ?`,
			to, now, id,
		)
	case model.StatusCompleted:
		var result []byte
		result, err = json.Marshal(payload.Result)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, result = ?, finished_at = ? WHERE id = ?`,
			to, string(result), now, id,
		)
	case model.StatusFailed:
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
			to, payload.Error, now, id,
		)
	default:
		return fmt.Errorf("%w: cannot transition into %q", model.ErrInvalidTransition, to)
	}
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transition of %s: %w", id, err)
	}
	return nil
}

// Delete removes a task row, model.ErrNotFound when absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if n != 1 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteFinishedBefore removes terminal tasks which finished before
// cutoff and returns how many rows went away. Pending and running rows
// are never touched.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks
		 WHERE status IN (?, ?) AND finished_at < ?`,
		model.StatusCompleted, model.StatusFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting finished tasks: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t                 model.Task
		command           string
		result, errMsg    sql.NullString
		createdAt         string
		started, finished sql.NullString
	)
	err := row.Scan(&t.ID, &t.Type, &t.Target, &command, &t.Status,
		&result, &errMsg, &createdAt, &started, &finished)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Task{}, model.ErrNotFound
	case err != nil:
		return model.Task{}, fmt.Errorf("scanning task row: %w", err)
	}

	if err := json.Unmarshal([]byte(command), &t.Command); err != nil {
		return model.Task{}, fmt.Errorf("decoding command of %s: %w", t.ID, err)
	}
	if result.Valid && result.String != "" {
		var r model.ScanResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return model.Task{}, fmt.Errorf("decoding result of %s: %w", t.ID, err)
		}
		t.Result = &r
	}
	if errMsg.Valid {
		t.Error = errMsg.String
	}

	t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return model.Task{}, fmt.Errorf("decoding created_at of %s: %w", t.ID, err)
	}
	if t.StartedAt, err = parseNullTime(started); err != nil {
		return model.Task{}, fmt.Errorf("decoding started_at of %s: %w", t.ID, err)
	}
	if t.FinishedAt, err = parseNullTime(finished); err != nil {
		return model.Task{}, fmt.Errorf("decoding finished_at of %s: %w", t.ID, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
