package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"remindflow/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, EnsureSchema(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleTask() domain.Task {
	due := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	dueAt := due.Add(17 * time.Hour)
	return domain.Task{
		Title:          "pick up dry cleaning",
		Description:    "from the place on 5th",
		CategoryID:     "Home",
		DueDate:        &due,
		DueAt:          &dueAt,
		Priority:       domain.PriorityMedium,
		Source:         domain.SourceChat,
		HasReminder:    true,
		Intervals:      []domain.ReminderInterval{domain.IntervalOneDay, domain.IntervalAtTime},
		IdempotencyKey: "abc123",
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := NewSQLite(newTestDB(t))
	ctx := context.Background()

	id, err := s.Insert(ctx, sampleTask())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "pick up dry cleaning", got.Title)
	require.Equal(t, "Home", got.CategoryID)
	require.NotNil(t, got.DueDate)
	require.NotNil(t, got.DueAt)
	require.True(t, got.DueAt.Equal(*sampleTask().DueAt))
	require.True(t, got.HasReminder)
	require.False(t, got.Completed)
	require.Equal(t, []domain.ReminderInterval{domain.IntervalOneDay, domain.IntervalAtTime}, got.Intervals)
	require.Equal(t, "abc123", got.IdempotencyKey)
	require.False(t, got.CreatedAt.IsZero())
}

func TestTaskUpdateAndDelete(t *testing.T) {
	s := NewSQLite(newTestDB(t))
	ctx := context.Background()

	id, err := s.Insert(ctx, sampleTask())
	require.NoError(t, err)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	got.Completed = true
	require.NoError(t, s.Update(ctx, got))

	got, err = s.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, got.Completed)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.GetByID(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)

	missing := got
	missing.ID = "tsk_missing"
	require.ErrorIs(t, s.Update(ctx, missing), ErrNotFound)
}

func TestFindByIdempotencyKeyHonorsWindow(t *testing.T) {
	s := NewSQLite(newTestDB(t))
	ctx := context.Background()

	_, err := s.Insert(ctx, sampleTask())
	require.NoError(t, err)

	found, err := s.FindByIdempotencyKey(ctx, "abc123", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, "pick up dry cleaning", found.Title)

	_, err = s.FindByIdempotencyKey(ctx, "abc123", time.Now().UTC().Add(time.Hour))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindByIdempotencyKey(ctx, "nope", time.Time{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateIdempotencyKeyRejected(t *testing.T) {
	s := NewSQLite(newTestDB(t))
	ctx := context.Background()

	_, err := s.Insert(ctx, sampleTask())
	require.NoError(t, err)
	_, err = s.Insert(ctx, sampleTask())
	require.Error(t, err)
}

func testJob(key string, triggerAt time.Time) domain.Job {
	payload, _ := domain.EncodePayload(map[string]string{
		domain.PayloadKeyTaskID:      "tsk_1",
		domain.PayloadKeyDescription: "pick up dry cleaning",
	})
	return domain.Job{
		Key:       key,
		TaskID:    "tsk_1",
		Interval:  domain.IntervalOneDay,
		TriggerAt: triggerAt,
		Payload:   payload,
	}
}

func TestJobLeaseLifecycle(t *testing.T) {
	q := NewJobQueue(newTestDB(t), 5)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(-time.Minute))))

	j, err := q.LeaseDue(ctx, now)
	require.NoError(t, err)
	require.Equal(t, "tsk_1|one_day", j.Key)
	require.Equal(t, "running", j.State)

	// Leased jobs are invisible until recovered or finished.
	_, err = q.LeaseDue(ctx, now)
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Succeed(ctx, j.Key))
	_, err = q.LeaseDue(ctx, now)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestJobNotDueIsNotLeased(t *testing.T) {
	q := NewJobQueue(newTestDB(t), 5)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(time.Hour))))
	_, err := q.LeaseDue(ctx, now)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestScheduleAtReplacesByKey(t *testing.T) {
	q := NewJobQueue(newTestDB(t), 5)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(time.Hour))))
	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(2*time.Hour))))

	jobs, err := q.PendingForTask(ctx, "tsk_1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.True(t, jobs[0].TriggerAt.After(now.Add(90*time.Minute)))
}

func TestCancelIsBestEffort(t *testing.T) {
	q := NewJobQueue(newTestDB(t), 5)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(-time.Minute))))
	require.NoError(t, q.Cancel(ctx, "tsk_1|one_day"))

	_, err := q.LeaseDue(ctx, now)
	require.ErrorIs(t, err, ErrEmpty)

	// Canceling a job that already fired changes nothing.
	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|at_time", now.Add(-time.Minute))))
	j, err := q.LeaseDue(ctx, now)
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, j.Key))
	require.NoError(t, q.Succeed(ctx, j.Key))
}

func TestCancelAllCountsQueuedOnly(t *testing.T) {
	q := NewJobQueue(newTestDB(t), 5)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(time.Hour))))
	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_hour", now.Add(2*time.Hour))))
	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|at_time", now.Add(-time.Minute))))

	_, err := q.LeaseDue(ctx, now) // at_time goes running
	require.NoError(t, err)

	n, err := q.CancelAll(ctx, "tsk_1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	jobs, err := q.PendingForTask(ctx, "tsk_1")
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestRetryExhaustionFails(t *testing.T) {
	q := NewJobQueue(newTestDB(t), 2)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(-time.Minute))))

	j, err := q.LeaseDue(ctx, now)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, j.Key, "store unreachable", 0))

	j, err = q.LeaseDue(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, j.Attempts)
	require.NoError(t, q.Retry(ctx, j.Key, "store unreachable", 0))

	// Two attempts against max_attempts=2: permanently failed.
	_, err = q.LeaseDue(ctx, now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrEmpty)
}

func TestRecoverStaleRequeues(t *testing.T) {
	db := newTestDB(t)
	q := NewJobQueue(db, 5)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(-time.Minute))))
	_, err := q.LeaseDue(ctx, now)
	require.NoError(t, err)

	// Simulate a worker that died mid-delivery long ago.
	_, err = db.Exec(`UPDATE reminder_jobs SET updated_at=datetime('now','-300 seconds') WHERE key='tsk_1|one_day'`)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	j, err := q.LeaseDue(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "tsk_1|one_day", j.Key)
}

func TestPurgeFinished(t *testing.T) {
	db := newTestDB(t)
	q := NewJobQueue(db, 5)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|one_day", now.Add(-time.Minute))))
	require.NoError(t, q.ScheduleAt(ctx, testJob("tsk_1|at_time", now.Add(time.Hour))))

	j, err := q.LeaseDue(ctx, now)
	require.NoError(t, err)
	require.NoError(t, q.Succeed(ctx, j.Key))

	n, err := q.PurgeFinished(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Queued jobs survive the purge.
	jobs, err := q.PendingForTask(ctx, "tsk_1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}
