// Package ingest owns the share-to-reminder pipeline: drain the inbox,
// extract a candidate, materialize it, schedule its reminders.
package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"remindflow/internal/domain"
	"remindflow/internal/extract"
	"remindflow/internal/inbox"
	"remindflow/internal/materialize"
	"remindflow/internal/schedule"
)

const DefaultCategory = "inbox"

type Service struct {
	inbox        *inbox.Inbox
	extractor    *extract.Extractor
	materializer *materialize.Materializer
	scheduler    *schedule.Scheduler
}

func NewService(in *inbox.Inbox, ex *extract.Extractor, mat *materialize.Materializer, sch *schedule.Scheduler) *Service {
	return &Service{inbox: in, extractor: ex, materializer: mat, scheduler: sch}
}

func (s *Service) Run(ctx context.Context) {
	log.Info().Msg("ingest loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.inbox.Wait():
			for {
				env, ok := s.inbox.Take()
				if !ok {
					break
				}
				if _, err := s.Process(ctx, env); err != nil {
					log.Error().Err(err).Str("app", env.AppName).Msg("share event dropped")
				}
			}
		}
	}
}

// Process runs one envelope through the full pipeline and returns the
// resulting task. Duplicate share events resolve to the existing task
// without touching its jobs.
func (s *Service) Process(ctx context.Context, env domain.Envelope) (domain.Task, error) {
	cand := s.extractor.Extract(env)

	category := cand.SuggestedCategory
	if category == "" {
		category = DefaultCategory
	}

	task, created, err := s.materializer.Materialize(ctx, cand, category)
	if err != nil {
		return domain.Task{}, fmt.Errorf("materialize: %w", err)
	}
	if !created {
		return task, nil
	}

	if _, err := s.scheduler.Schedule(ctx, task); err != nil {
		// The task exists either way; a reminder is not guaranteed.
		log.Error().Err(err).Str("task_id", task.ID).Msg("scheduling reminders failed")
	}

	log.Info().
		Str("task_id", task.ID).
		Str("title", task.Title).
		Str("category", task.CategoryID).
		Float64("confidence", cand.Confidence).
		Bool("ambiguous", s.extractor.IsAmbiguous(cand)).
		Msg("share event materialized")
	return task, nil
}
