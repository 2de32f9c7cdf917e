// Package deliver runs the fire-time state machine for one reminder
// job. The job payload is never trusted beyond identifying the task:
// the worker re-reads the store at fire time and the store's current
// state decides whether a notification goes out. A reminder that cannot
// be delivered correctly is dropped silently, never shown wrong.
package deliver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"remindflow/internal/domain"
	"remindflow/internal/store"
)

// ErrBadPayload marks a permanently unusable job: no amount of retrying
// fixes a missing task id or description.
var ErrBadPayload = errors.New("malformed reminder payload")

type Outcome int

const (
	// OutcomeDelivered means a notification went out.
	OutcomeDelivered Outcome = iota
	// OutcomeTaskMissing means the task was deleted before fire time.
	OutcomeTaskMissing
	// OutcomeTaskCompleted means the task was completed before fire time.
	OutcomeTaskCompleted
)

// TaskReader is the point-lookup slice of the store the worker needs.
type TaskReader interface {
	GetByID(ctx context.Context, id string) (domain.Task, error)
}

// Notifier is where rendered reminders go.
type Notifier interface {
	Deliver(ctx context.Context, taskID, title, description string) error
}

type Worker struct {
	tasks    TaskReader
	notifier Notifier
}

func NewWorker(tasks TaskReader, notifier Notifier) *Worker {
	return &Worker{tasks: tasks, notifier: notifier}
}

// Handle executes one fired job. A nil error with a skip outcome is a
// success: the reminder became moot and no notification is owed. Errors
// wrapping ErrBadPayload are permanent; any other error is transient
// and the caller is expected to retry with backoff.
func (w *Worker) Handle(ctx context.Context, payload []byte) (Outcome, error) {
	fields, err := domain.DecodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	taskID := fields[domain.PayloadKeyTaskID]
	description := fields[domain.PayloadKeyDescription]
	if taskID == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrBadPayload, domain.PayloadKeyTaskID)
	}
	if description == "" {
		return 0, fmt.Errorf("%w: missing %s", ErrBadPayload, domain.PayloadKeyDescription)
	}

	t, err := w.tasks.GetByID(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info().Str("task_id", taskID).Msg("task gone at fire time, reminder dropped")
		return OutcomeTaskMissing, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read task %s: %w", taskID, err)
	}
	if t.Completed {
		log.Info().Str("task_id", taskID).Msg("task completed at fire time, reminder dropped")
		return OutcomeTaskCompleted, nil
	}

	title := t.Title
	if title == "" {
		title = fields[domain.PayloadKeyTitle]
	}
	if err := w.notifier.Deliver(ctx, t.ID, title, description); err != nil {
		return 0, fmt.Errorf("deliver notification: %w", err)
	}
	return OutcomeDelivered, nil
}
