// Package materialize turns extracted candidates into persisted tasks,
// applying the default reminder policy and suppressing duplicate share
// events replayed by the host.
package materialize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"remindflow/internal/domain"
	"remindflow/internal/store"
)

const DefaultDedupWindow = 5 * time.Minute

type Materializer struct {
	tasks  store.TaskStore
	window time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func New(tasks store.TaskStore, window time.Duration) *Materializer {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Materializer{tasks: tasks, window: window, locks: map[string]*keyLock{}}
}

// IdempotencyKey derives the stable dedup key for one share event.
// ReceivedAt is rounded to the minute so jittered replays of the same
// event still collide.
func IdempotencyKey(originalText string, source domain.Source, receivedAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", originalText, source, receivedAt.UTC().Truncate(time.Minute).Unix())
	return hex.EncodeToString(h.Sum(nil))
}

// Materialize persists the candidate as a task. The returned bool is
// false when an existing task inside the dedup window was reused.
// Intervals override the default {one_day} reminder set when given.
func (m *Materializer) Materialize(ctx context.Context, c domain.Candidate, categoryID string, intervals ...domain.ReminderInterval) (domain.Task, bool, error) {
	key := IdempotencyKey(c.OriginalText, c.Source, c.ReceivedAt)

	// Concurrent deliveries of the same share event serialize here so
	// the read-then-write below cannot race itself.
	unlock := m.lock(key)
	defer unlock()

	since := time.Now().UTC().Add(-m.window)
	if existing, err := m.tasks.FindByIdempotencyKey(ctx, key, since); err == nil {
		log.Debug().Str("task_id", existing.ID).Str("key", key).Msg("duplicate share event, reusing task")
		return existing, false, nil
	} else if err != store.ErrNotFound {
		return domain.Task{}, false, fmt.Errorf("dedup lookup: %w", err)
	}

	t := domain.Task{
		Title:          c.Title,
		Description:    c.Description,
		CategoryID:     categoryID,
		DueDate:        c.Date,
		DueAt:          combineDue(c.Date, c.TimeOfDay),
		Priority:       c.InferredPriority,
		Source:         c.Source,
		HasReminder:    c.Date != nil,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	if t.HasReminder {
		if len(intervals) > 0 {
			t.Intervals = intervals
		} else {
			t.Intervals = []domain.ReminderInterval{domain.IntervalOneDay}
		}
	}

	id, err := m.tasks.Insert(ctx, t)
	if err != nil {
		// The unique index is the backstop for a replay that slipped past
		// the window check; surface the original task if that is what hit.
		if existing, ferr := m.tasks.FindByIdempotencyKey(ctx, key, time.Time{}); ferr == nil {
			return existing, false, nil
		}
		return domain.Task{}, false, fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	return t, true, nil
}

// combineDue merges date and clock time into a single instant only when
// both are present; a date alone stays a date.
func combineDue(date *time.Time, clock *domain.ClockTime) *time.Time {
	if date == nil || clock == nil {
		return nil
	}
	due := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour, clock.Minute, 0, 0, date.Location())
	return &due
}

func (m *Materializer) lock(key string) func() {
	m.mu.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{}
		m.locks[key] = kl
	}
	kl.refs++
	m.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		m.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
