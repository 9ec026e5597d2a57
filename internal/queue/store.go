package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"drover/internal/logging"
	"drover/internal/retry"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("task not found")

// Store is the SQLite-backed task table. Safe for concurrent use; writes
// serialise on a single connection.
type Store struct {
	db *sql.DB
}

const taskSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL,
	type          TEXT NOT NULL,
	payload       TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	priority      INTEGER NOT NULL DEFAULT 1,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	not_before    INTEGER NOT NULL DEFAULT 0,
	claim_owner   TEXT NOT NULL DEFAULT '',
	claim_expires INTEGER NOT NULL DEFAULT 0,
	parent_id     TEXT NOT NULL DEFAULT '',
	result        TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(status, not_before, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id, status);
`

const taskColumns = `id, title, type, payload, status, priority, attempts, max_attempts,
	not_before, claim_owner, claim_expires, parent_id, result, error, created_at, updated_at`

// Open opens (creating if needed) the queue database. One connection with a
// generous busy timeout keeps concurrent runners from tripping over writes.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(taskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task schema: %w", err)
	}

	logging.Queue("Queue store open: %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a task. Missing ID, status, and max attempts get defaults.
func (s *Store) Add(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if err := t.Validate(); err != nil {
		return err
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Type, t.Payload, string(t.Status), int(t.Priority),
		t.Attempts, t.MaxAttempts, toMillis(t.NotBefore), t.ClaimOwner,
		toMillis(t.ClaimExpires), t.ParentID, t.Result, t.Error,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return dbErr("add task", err)
	}

	logging.Queue("Added task %s [%s] %q", t.ID, t.Type, t.Title)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditTaskAdd,
		Category:  string(logging.CategoryQueue),
		Target:    t.ID,
		Action:    t.Type,
		Success:   true,
		Message:   t.Title,
	})
	return nil
}

// Get returns one task by id.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, dbErr("get task", err)
	}
	return t, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Status Status
	Type   string
	Limit  int
}

// List returns tasks newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var clauses []string
	var args []interface{}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list tasks", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// Claim atomically claims up to n due tasks for owner. The claim is a
// single UPDATE, so two concurrent claimers can never take the same row:
// whichever statement runs second no longer sees the row as pending. Types
// restricts claiming to task types the caller can actually execute; empty
// claims any type.
func (s *Store) Claim(ctx context.Context, owner string, n int, lease time.Duration, types []string) ([]*Task, error) {
	if n <= 0 {
		return nil, nil
	}
	now := time.Now()
	expires := now.Add(lease).UnixMilli()

	typeClause := ""
	args := []interface{}{owner, expires, now.UnixMilli(), now.UnixMilli()}
	if len(types) > 0 {
		typeClause = " AND type IN (?" + strings.Repeat(", ?", len(types)-1) + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}
	args = append(args, n)

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'claimed', claim_owner = ?, claim_expires = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = 'pending' AND not_before <= ?`+typeClause+`
			ORDER BY priority DESC, created_at ASC
			LIMIT ?
		)`, args...)
	if err != nil {
		return nil, dbErr("claim tasks", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil || claimed == 0 {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = 'claimed' AND claim_owner = ? AND claim_expires = ?
		ORDER BY priority DESC, created_at ASC`, owner, expires)
	if err != nil {
		return nil, dbErr("load claimed tasks", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	logging.Queue("Claimed %d task(s) for %s", len(tasks), owner)
	logging.Audit().Log(logging.AuditEvent{
		EventType: logging.AuditTaskClaim,
		Category:  string(logging.CategoryQueue),
		Target:    owner,
		Success:   true,
		Fields:    map[string]interface{}{"claimed": len(tasks)},
	})
	return tasks, nil
}

// Reap reverts claimed and in-progress tasks whose lease has expired back
// to pending. Attempts are preserved; only the claim is stripped.
func (s *Store) Reap(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', claim_owner = '', claim_expires = 0, updated_at = ?
		WHERE status IN ('claimed', 'in_progress') AND claim_expires > 0 AND claim_expires < ?`,
		now, now)
	if err != nil {
		return 0, dbErr("reap tasks", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.QueueWarn("Reaped %d task(s) with expired leases", n)
	}
	return int(n), nil
}

// MarkInProgress moves a claimed task to in_progress and counts the
// attempt. Fails when the caller no longer owns the claim.
func (s *Store) MarkInProgress(ctx context.Context, id, owner string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'in_progress', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND claim_owner = ? AND status = 'claimed'`,
		time.Now().UnixMilli(), id, owner)
	if err != nil {
		return dbErr("mark in progress", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: claim lost or not claimed by %s", id, owner)
	}
	logging.Audit().TaskTransition(id, string(StatusClaimed), string(StatusInProgress), "")
	return nil
}

// Complete finishes a task successfully.
func (s *Store) Complete(ctx context.Context, id, owner, result string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', result = ?, error = '',
			claim_owner = '', claim_expires = 0, updated_at = ?
		WHERE id = ? AND claim_owner = ? AND status = 'in_progress'`,
		result, time.Now().UnixMilli(), id, owner)
	if err != nil {
		return dbErr("complete task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: claim lost before completion", id)
	}
	logging.Queue("Task %s completed", id)
	logging.Audit().TaskTransition(id, string(StatusInProgress), string(StatusCompleted), "")
	return nil
}

// Fail finishes a task permanently with an error memo.
func (s *Store) Fail(ctx context.Context, id, owner, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', error = ?,
			claim_owner = '', claim_expires = 0, updated_at = ?
		WHERE id = ? AND claim_owner = ? AND status IN ('claimed', 'in_progress')`,
		errMsg, time.Now().UnixMilli(), id, owner)
	if err != nil {
		return dbErr("fail task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: claim lost before failure recorded", id)
	}
	logging.QueueWarn("Task %s failed: %s", id, errMsg)
	logging.Audit().TaskTransition(id, string(StatusInProgress), string(StatusFailed), errMsg)
	return nil
}

// Release puts a task back to pending for a later retry, gated by
// notBefore. The last error stays visible on the row.
func (s *Store) Release(ctx context.Context, id, owner string, notBefore time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', not_before = ?, error = ?,
			claim_owner = '', claim_expires = 0, updated_at = ?
		WHERE id = ? AND claim_owner = ? AND status IN ('claimed', 'in_progress')`,
		toMillis(notBefore), errMsg, time.Now().UnixMilli(), id, owner)
	if err != nil {
		return dbErr("release task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: claim lost before release", id)
	}
	logging.Queue("Task %s released for retry (not before %s)", id, notBefore.Format(time.TimeOnly))
	logging.Audit().TaskTransition(id, string(StatusInProgress), string(StatusPending), errMsg)
	return nil
}

// Retry re-queues a failed task with a fresh attempt budget.
func (s *Store) Retry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'pending', attempts = 0, error = '', not_before = 0, updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return dbErr("retry task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("task %s is not failed", id)
	}
	logging.Queue("Task %s re-queued", id)
	logging.Audit().TaskTransition(id, string(StatusFailed), string(StatusPending), "")
	return nil
}

// Counts returns the number of tasks per status. Every status is present in
// the map, zero included.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, dbErr("count tasks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// HasOpenReview reports whether an unfinished review task exists for a
// parent.
func (s *Store) HasOpenReview(ctx context.Context, parentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE parent_id = ? AND type = ? AND status IN ('pending', 'claimed', 'in_progress')`,
		parentID, TypeReview).Scan(&n)
	if err != nil {
		return false, dbErr("check review", err)
	}
	return n > 0, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status string
	var priority int
	var notBefore, claimExpires, created, updated int64
	err := row.Scan(&t.ID, &t.Title, &t.Type, &t.Payload, &status, &priority,
		&t.Attempts, &t.MaxAttempts, &notBefore, &t.ClaimOwner, &claimExpires,
		&t.ParentID, &t.Result, &t.Error, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.Priority = Priority(priority)
	t.NotBefore = fromMillis(notBefore)
	t.ClaimExpires = fromMillis(claimExpires)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// dbErr wraps a database error, marking lock contention as transient so
// callers under retry treat it as a wait-and-retry rather than a failure.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "table is locked") {
		return retry.Transient(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
