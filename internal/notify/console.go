// Package notify holds Notifier implementations. The console notifier
// stands in for the host notification tray: one structured log event
// per delivered reminder.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type Console struct {
	log zerolog.Logger
}

func NewConsole(log zerolog.Logger) *Console {
	return &Console{log: log}
}

func (c *Console) Deliver(ctx context.Context, taskID, title, description string) error {
	c.log.Info().
		Str("task_id", taskID).
		Str("title", title).
		Str("description", description).
		Msg("reminder")
	return nil
}
