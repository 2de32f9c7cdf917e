// Package inbox is the explicit handoff between the host's share
// delivery and the ingest loop. Each envelope is delivered to exactly
// one consumer and cleared afterward; there is no ambient global slot.
package inbox

import (
	"errors"
	"sync"

	"remindflow/internal/domain"
)

var ErrFull = errors.New("inbox full")

type Inbox struct {
	mu      sync.Mutex
	pending []domain.Envelope
	max     int
	notify  chan struct{}
}

func New(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 64
	}
	return &Inbox{max: capacity, notify: make(chan struct{}, 1)}
}

// Put accepts one share event. The producer is never blocked; a full
// inbox rejects instead, and the caller surfaces that to the host.
func (i *Inbox) Put(env domain.Envelope) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.pending) >= i.max {
		return ErrFull
	}
	i.pending = append(i.pending, env)
	select {
	case i.notify <- struct{}{}:
	default:
	}
	return nil
}

// Take removes and returns the oldest pending envelope.
func (i *Inbox) Take() (domain.Envelope, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.pending) == 0 {
		return domain.Envelope{}, false
	}
	env := i.pending[0]
	i.pending = i.pending[1:]
	return env, true
}

// Wait signals when at least one envelope may be pending. Consumers
// drain with Take until it reports false.
func (i *Inbox) Wait() <-chan struct{} {
	return i.notify
}

func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}
