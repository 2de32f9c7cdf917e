// Package store persists tasks and their keyed reminder jobs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"remindflow/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrEmpty    = errors.New("no jobs ready")
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  category_id TEXT NOT NULL DEFAULT '',
  due_date DATETIME,
  due_at DATETIME,
  priority TEXT NOT NULL DEFAULT 'medium',
  source TEXT NOT NULL DEFAULT 'chat',
  completed INTEGER NOT NULL DEFAULT 0,
  has_reminder INTEGER NOT NULL DEFAULT 0,
  intervals TEXT NOT NULL DEFAULT '',
  idempotency_key TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_idem ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
CREATE TABLE IF NOT EXISTS reminder_jobs (
  key TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  interval TEXT NOT NULL,
  trigger_at DATETIME NOT NULL,
  payload BLOB NOT NULL,
  state TEXT NOT NULL CHECK(state IN ('queued','running','delivered','failed','canceled')) DEFAULT 'queued',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  next_run_at DATETIME NOT NULL,
  lease_timeout INTEGER NOT NULL DEFAULT 60,
  error TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON reminder_jobs(state, next_run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_task ON reminder_jobs(task_id);
`
	_, err := db.Exec(schema)
	return err
}

// TaskStore is the persistence surface the materializer, scheduler and
// delivery worker consume.
type TaskStore interface {
	Insert(ctx context.Context, t domain.Task) (string, error)
	GetByID(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error
	FindByIdempotencyKey(ctx context.Context, key string, since time.Time) (domain.Task, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Task, error)
}

type SQLite struct{ db *sql.DB }

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) Insert(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id,title,description,category_id,due_date,due_at,priority,source,completed,has_reminder,intervals,idempotency_key,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
`, id, t.Title, t.Description, t.CategoryID, t.DueDate, t.DueAt, t.Priority, t.Source,
		t.Completed, t.HasReminder, joinIntervals(t.Intervals), t.IdempotencyKey, createdAt)
	return id, err
}

func (s *SQLite) GetByID(ctx context.Context, id string) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id=?`, id)
	return scanTask(row)
}

func (s *SQLite) FindByIdempotencyKey(ctx context.Context, key string, since time.Time) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE idempotency_key=? AND created_at >= ?`, key, since)
	return scanTask(row)
}

func (s *SQLite) Update(ctx context.Context, t domain.Task) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET title=?,description=?,category_id=?,due_date=?,due_at=?,priority=?,completed=?,has_reminder=?,intervals=?
WHERE id=?`, t.Title, t.Description, t.CategoryID, t.DueDate, t.DueAt, t.Priority,
		t.Completed, t.HasReminder, joinIntervals(t.Intervals), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

const taskSelect = `
SELECT id,title,description,category_id,due_date,due_at,priority,source,completed,has_reminder,intervals,idempotency_key,created_at
FROM tasks`

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var dueDate, dueAt sql.NullTime
	var intervals string
	var idem sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.CategoryID, &dueDate, &dueAt,
		&t.Priority, &t.Source, &t.Completed, &t.HasReminder, &intervals, &idem, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if dueAt.Valid {
		d := dueAt.Time
		t.DueAt = &d
	}
	if idem.Valid {
		t.IdempotencyKey = idem.String
	}
	t.Intervals = splitIntervals(intervals)
	return t, nil
}

func joinIntervals(intervals []domain.ReminderInterval) string {
	parts := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		parts = append(parts, string(iv))
	}
	return strings.Join(parts, ",")
}

func splitIntervals(s string) []domain.ReminderInterval {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	intervals := make([]domain.ReminderInterval, 0, len(parts))
	for _, p := range parts {
		if iv, err := domain.ParseInterval(p); err == nil {
			intervals = append(intervals, iv)
		}
	}
	return intervals
}
