package ingest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"remindflow/internal/deliver"
	"remindflow/internal/domain"
	"remindflow/internal/extract"
	"remindflow/internal/inbox"
	"remindflow/internal/materialize"
	"remindflow/internal/schedule"
	"remindflow/internal/store"
)

// Wednesday morning; relative dates and trigger instants both resolve
// against this fixed clock so the test is immune to wall time.
var pipeNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.Local)

type pipeline struct {
	svc   *Service
	in    *inbox.Inbox
	tasks *store.SQLite
	jobs  *store.JobQueue
}

func newPipeline(t *testing.T) pipeline {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, store.EnsureSchema(db))
	t.Cleanup(func() { _ = db.Close() })

	tasks := store.NewSQLite(db)
	jobs := store.NewJobQueue(db, 5)
	in := inbox.New(8)
	clock := func() time.Time { return pipeNow }
	svc := NewService(in,
		extract.NewAt(extract.DefaultConfig(), clock),
		materialize.New(tasks, time.Minute),
		schedule.NewAt(jobs, clock))
	return pipeline{svc: svc, in: in, tasks: tasks, jobs: jobs}
}

func shareEvent(text string) domain.Envelope {
	return domain.Envelope{
		Text:       text,
		AppName:    "messenger",
		SenderInfo: "Sam",
		ReceivedAt: pipeNow,
	}
}

func TestProcessMaterializesAndSchedules(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	task, err := p.svc.Process(ctx, shareEvent("remember to pick up dry cleaning tomorrow at 5pm"))
	require.NoError(t, err)
	require.Equal(t, "pick up dry cleaning", task.Title)
	require.True(t, task.HasReminder)
	require.NotNil(t, task.DueAt)
	require.Equal(t, 17, task.DueAt.Hour())

	stored, err := p.tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SourceChat, stored.Source)

	pending, err := p.jobs.PendingForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.IntervalOneDay, pending[0].Interval)
	require.True(t, pending[0].TriggerAt.Equal(task.DueAt.Add(-24*time.Hour)))
}

func TestProcessReplayedShareEventIsIdempotent(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	env := shareEvent("remember to pick up dry cleaning tomorrow at 5pm")

	first, err := p.svc.Process(ctx, env)
	require.NoError(t, err)
	second, err := p.svc.Process(ctx, env)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	pending, err := p.jobs.PendingForTask(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestProcessDatelessTextCreatesUnscheduledTask(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	task, err := p.svc.Process(ctx, shareEvent("thanks for dinner"))
	require.NoError(t, err)
	require.False(t, task.HasReminder)

	pending, err := p.jobs.PendingForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFiredReminderHonorsCurrentTaskState(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	task, err := p.svc.Process(ctx, shareEvent("remember to pick up dry cleaning tomorrow at 5pm"))
	require.NoError(t, err)
	pending, err := p.jobs.PendingForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	notifier := &recordingNotifier{}
	w := deliver.NewWorker(p.tasks, notifier)

	// Completed between scheduling and fire time: success, no notification.
	task.Completed = true
	require.NoError(t, p.tasks.Update(ctx, task))
	outcome, err := w.Handle(ctx, pending[0].Payload)
	require.NoError(t, err)
	require.Equal(t, deliver.OutcomeTaskCompleted, outcome)
	require.Zero(t, notifier.calls)

	// Reopened: the same payload now delivers.
	task.Completed = false
	require.NoError(t, p.tasks.Update(ctx, task))
	outcome, err = w.Handle(ctx, pending[0].Payload)
	require.NoError(t, err)
	require.Equal(t, deliver.OutcomeDelivered, outcome)
	require.Equal(t, 1, notifier.calls)

	// Deleted: success, no further notification.
	require.NoError(t, p.tasks.Delete(ctx, task.ID))
	outcome, err = w.Handle(ctx, pending[0].Payload)
	require.NoError(t, err)
	require.Equal(t, deliver.OutcomeTaskMissing, outcome)
	require.Equal(t, 1, notifier.calls)
}

type recordingNotifier struct {
	calls int
}

func (n *recordingNotifier) Deliver(ctx context.Context, taskID, title, description string) error {
	n.calls++
	return nil
}
