package session

import (
	"context"
	"sync/atomic"
	"time"

	"execcore/pkg/exception"

	"github.com/google/uuid"
)

// Event reports a state transition or a counterparty Reject.
type Event struct {
	SessionID uuid.UUID
	From      State
	To        State
	Kind      exception.Kind
	Err       error
	Text      string
	At        time.Time
}

// IsTransition reports whether the event changed the session state.
func (e Event) IsTransition() bool {
	return e.From != e.To
}

// EventQueue is a bounded, non-blocking event queue. A full queue drops events.
type EventQueue struct {
	ch    chan Event
	drops uint64
}

// NewEventQueue allocates a queue with the given capacity.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventQueue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking and reports whether it was queued.
func (q *EventQueue) TryPublish(e Event) bool {
	if q == nil {
		return false
	}
	select {
	case q.ch <- e:
		return true
	default:
		atomic.AddUint64(&q.drops, 1)
		return false
	}
}

// Drops returns how many events were dropped on a full queue.
func (q *EventQueue) Drops() uint64 {
	return atomic.LoadUint64(&q.drops)
}

// Run consumes events until the context is done.
func (q *EventQueue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-q.ch:
			handler(e)
		}
	}
}
