// Package worker polls the job queue and drives the delivery worker,
// playing the host scheduler's role: at-least-once firing with bounded
// retry and exponential backoff.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"remindflow/internal/deliver"
	"remindflow/internal/domain"
	"remindflow/internal/store"
)

type Pool struct {
	jobs       store.JobStore
	worker     *deliver.Worker
	sem        chan struct{}
	pollEvery  time.Duration
	jobTimeout time.Duration
}

func NewPool(jobs store.JobStore, worker *deliver.Worker, size int, pollEvery time.Duration) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{
		jobs:       jobs,
		worker:     worker,
		sem:        make(chan struct{}, size),
		pollEvery:  pollEvery,
		jobTimeout: 30 * time.Second,
	}
}

func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			p.drain(ctx, now)
		}
	}
}

// drain leases every due job and dispatches each to its own goroutine,
// bounded by the semaphore.
func (p *Pool) drain(ctx context.Context, now time.Time) {
	for {
		job, err := p.jobs.LeaseDue(ctx, now)
		if err == store.ErrEmpty {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("lease job")
			return
		}
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func(j domain.Job) {
			defer func() { <-p.sem }()
			p.fire(ctx, j)
		}(job)
	}
}

func (p *Pool) fire(ctx context.Context, j domain.Job) {
	c, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	outcome, err := p.worker.Handle(c, j.Payload)
	switch {
	case err == nil:
		if err := p.jobs.Succeed(ctx, j.Key); err != nil {
			log.Error().Err(err).Str("key", j.Key).Msg("mark delivered")
		}
		log.Info().Str("key", j.Key).Int("outcome", int(outcome)).Msg("reminder job done")
	case errors.Is(err, deliver.ErrBadPayload):
		// Permanent: retrying cannot repair the payload.
		if ferr := p.jobs.Fail(ctx, j.Key, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("key", j.Key).Msg("mark failed")
		}
		log.Error().Err(err).Str("key", j.Key).Msg("reminder job rejected")
	default:
		delay := backoffExp(j.Attempts)
		if rerr := p.jobs.Retry(ctx, j.Key, err.Error(), delay); rerr != nil {
			log.Error().Err(rerr).Str("key", j.Key).Msg("mark retry")
		}
		log.Warn().Err(err).Str("key", j.Key).Dur("delay", delay).Msg("reminder job will retry")
	}
}

func backoffExp(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}
