package weaver

import (
	"sync"
	"time"

	"github.com/mia-systems/cognitive-core/storage"
)

// DeadLetter is one event that exhausted its retry budget.
type DeadLetter struct {
	Event     storage.MutationEvent
	Err       error
	FailedAt  time.Time
}

// DeadLetterQueue is a bounded, queryable record of failed events. It is
// not a retry queue; re-processing is an operator action, not automatic.
type DeadLetterQueue struct {
	mu   sync.Mutex
	cap  int
	list []DeadLetter
}

// NewDeadLetterQueue creates a queue retaining at most capacity entries,
// dropping the oldest once full.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &DeadLetterQueue{cap: capacity}
}

// Add records a failed event.
func (q *DeadLetterQueue) Add(ev storage.MutationEvent, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.list = append(q.list, DeadLetter{Event: ev, Err: err, FailedAt: time.Now().UTC()})
	if len(q.list) > q.cap {
		q.list = q.list[len(q.list)-q.cap:]
	}
}

// List returns a snapshot of retained dead letters, oldest first.
func (q *DeadLetterQueue) List() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetter, len(q.list))
	copy(out, q.list)
	return out
}

// Len reports how many dead letters are currently retained.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.list)
}
