package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"remindflow/internal/domain"
)

// JobStore is the deferred-execution surface: keyed one-shot jobs with
// at-least-once firing. ScheduleAt on an existing key replaces the job
// atomically; at most one row ever exists per key.
type JobStore interface {
	ScheduleAt(ctx context.Context, job domain.Job) error
	Cancel(ctx context.Context, key string) error
	CancelAll(ctx context.Context, taskID string) (int, error)
	LeaseDue(ctx context.Context, now time.Time) (domain.Job, error)
	Retry(ctx context.Context, key, errStr string, delay time.Duration) error
	Succeed(ctx context.Context, key string) error
	Fail(ctx context.Context, key, errStr string) error
	RecoverStale(ctx context.Context) (int, error)
	PurgeFinished(ctx context.Context, olderThan time.Time) (int, error)
}

type JobQueue struct {
	db          *sql.DB
	maxAttempts int
}

func NewJobQueue(db *sql.DB, maxAttempts int) *JobQueue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &JobQueue{db: db, maxAttempts: maxAttempts}
}

func (q *JobQueue) ScheduleAt(ctx context.Context, job domain.Job) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO reminder_jobs (key,task_id,interval,trigger_at,payload,state,attempts,max_attempts,next_run_at,created_at,updated_at)
VALUES (?,?,?,?,?, 'queued',0,?,?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET
  trigger_at=excluded.trigger_at,
  payload=excluded.payload,
  state='queued',
  attempts=0,
  next_run_at=excluded.next_run_at,
  error=NULL,
  updated_at=CURRENT_TIMESTAMP
`, job.Key, job.TaskID, job.Interval, job.TriggerAt, job.Payload, q.maxAttempts, job.TriggerAt)
	return err
}

// Cancel is best-effort: a job that already fired or finished is left
// alone, the delivery worker's fire-time re-check covers that race.
func (q *JobQueue) Cancel(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE reminder_jobs SET state='canceled', updated_at=CURRENT_TIMESTAMP
WHERE key=? AND state='queued'`, key)
	return err
}

func (q *JobQueue) CancelAll(ctx context.Context, taskID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE reminder_jobs SET state='canceled', updated_at=CURRENT_TIMESTAMP
WHERE task_id=? AND state='queued'`, taskID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *JobQueue) LeaseDue(ctx context.Context, now time.Time) (domain.Job, error) {
	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Job{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
SELECT key,task_id,interval,trigger_at,payload,attempts,state
FROM reminder_jobs
WHERE state='queued' AND next_run_at <= ?
ORDER BY next_run_at ASC
LIMIT 1`, now)
	var j domain.Job
	err = row.Scan(&j.Key, &j.TaskID, &j.Interval, &j.TriggerAt, &j.Payload, &j.Attempts, &j.State)
	if err == sql.ErrNoRows {
		err = nil
		if rbErr := tx.Rollback(); rbErr != nil {
			return domain.Job{}, rbErr
		}
		return domain.Job{}, ErrEmpty
	}
	if err != nil {
		return domain.Job{}, err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE reminder_jobs SET state='running', updated_at=CURRENT_TIMESTAMP WHERE key=?`, j.Key)
	if err != nil {
		return domain.Job{}, err
	}
	if err = tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	j.State = "running"
	return j, nil
}

func (q *JobQueue) Retry(ctx context.Context, key, errStr string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE reminder_jobs
SET attempts = attempts + 1,
    state = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
    next_run_at = datetime(CURRENT_TIMESTAMP, ?),
    error = ?,
    updated_at = CURRENT_TIMESTAMP
WHERE key = ?`, fmt.Sprintf("+%d seconds", int(delay.Seconds())), errStr, key)
	return err
}

func (q *JobQueue) Succeed(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE reminder_jobs SET state='delivered', updated_at=CURRENT_TIMESTAMP WHERE key=?`, key)
	return err
}

func (q *JobQueue) Fail(ctx context.Context, key, errStr string) error {
	_, err := q.db.ExecContext(ctx, `
UPDATE reminder_jobs SET state='failed', error=?, updated_at=CURRENT_TIMESTAMP WHERE key=?`, errStr, key)
	return err
}

// RecoverStale requeues jobs whose worker died mid-delivery.
func (q *JobQueue) RecoverStale(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE reminder_jobs
SET state='queued', next_run_at=CURRENT_TIMESTAMP, updated_at=CURRENT_TIMESTAMP
WHERE state='running' AND strftime('%s','now') - strftime('%s',updated_at) > lease_timeout`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *JobQueue) PurgeFinished(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM reminder_jobs
WHERE state IN ('delivered','failed','canceled') AND updated_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PendingForTask lists still-queued jobs for one task, oldest trigger first.
func (q *JobQueue) PendingForTask(ctx context.Context, taskID string) ([]domain.Job, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT key,task_id,interval,trigger_at,payload,attempts,state
FROM reminder_jobs WHERE task_id=? AND state='queued' ORDER BY trigger_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.Key, &j.TaskID, &j.Interval, &j.TriggerAt, &j.Payload, &j.Attempts, &j.State); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
