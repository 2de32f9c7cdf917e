// Package schedule maps a task's reminder intervals onto keyed deferred
// jobs. Rescheduling replaces by key; past triggers are never enqueued.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"remindflow/internal/domain"
	"remindflow/internal/store"
)

type Scheduler struct {
	jobs store.JobStore
	now  func() time.Time
}

func New(jobs store.JobStore) *Scheduler {
	return &Scheduler{jobs: jobs, now: time.Now}
}

func NewAt(jobs store.JobStore, now func() time.Time) *Scheduler {
	return &Scheduler{jobs: jobs, now: now}
}

// Schedule creates one job per reminder interval of the task. Intervals
// whose trigger instant already passed are skipped. The job payload
// snapshots display fields only; the delivery worker re-reads the task
// at fire time regardless.
func (s *Scheduler) Schedule(ctx context.Context, t domain.Task) ([]domain.Job, error) {
	if !t.HasReminder || len(t.Intervals) == 0 {
		return nil, nil
	}
	due := dueInstant(t)
	if due == nil {
		return nil, nil
	}

	desc := t.Description
	if desc == "" {
		desc = t.Title
	}
	payload, err := domain.EncodePayload(map[string]string{
		domain.PayloadKeyTaskID:      t.ID,
		domain.PayloadKeyTitle:       t.Title,
		domain.PayloadKeyDescription: desc,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := s.now()
	var created []domain.Job
	for _, interval := range t.Intervals {
		triggerAt := due.Add(-interval.Offset())
		if !triggerAt.After(now) {
			log.Debug().Str("task_id", t.ID).Str("interval", string(interval)).
				Time("trigger_at", triggerAt).Msg("trigger in the past, skipping")
			continue
		}
		job := domain.Job{
			Key:       domain.JobKey(t.ID, interval),
			TaskID:    t.ID,
			Interval:  interval,
			TriggerAt: triggerAt,
			Payload:   payload,
		}
		if err := s.jobs.ScheduleAt(ctx, job); err != nil {
			return created, fmt.Errorf("schedule %s: %w", job.Key, err)
		}
		log.Info().Str("task_id", t.ID).Str("interval", string(interval)).
			Time("trigger_at", triggerAt).Msg("reminder scheduled")
		created = append(created, job)
	}
	return created, nil
}

// Reschedule cancels whatever jobs the task has and schedules afresh
// from its current state.
func (s *Scheduler) Reschedule(ctx context.Context, t domain.Task) ([]domain.Job, error) {
	if _, err := s.jobs.CancelAll(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("cancel existing: %w", err)
	}
	return s.Schedule(ctx, t)
}

// CancelAll is best-effort: a job that already fired cannot be called
// back, the delivery worker's fire-time re-check makes that harmless.
func (s *Scheduler) CancelAll(ctx context.Context, taskID string) {
	n, err := s.jobs.CancelAll(ctx, taskID)
	if err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Msg("cancel reminders failed")
		return
	}
	if n > 0 {
		log.Info().Str("task_id", taskID).Int("canceled", n).Msg("reminders canceled")
	}
}

// dueInstant picks the instant reminders count back from: the combined
// date+time when known, otherwise local midnight of the due day.
func dueInstant(t domain.Task) *time.Time {
	if t.DueAt != nil {
		return t.DueAt
	}
	return t.DueDate
}
