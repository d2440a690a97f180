// Package weaver implements asynchronous enrichment reacting to
// storage mutation events: semantic indexing, entity and
// associative linking, and scheduled summarization. It never owns a
// database; every write goes back through storage.Coordinator.
package weaver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mia-systems/cognitive-core/storage"
)

// Handler reacts to one MutationEvent. A returned error triggers the
// retry-then-dead-letter path.
type Handler func(ctx context.Context, ev storage.MutationEvent) error

// Config tunes retry behavior and logging.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Weaver subscribes to a Coordinator's event bus and dispatches each
// MutationEvent to every handler registered for its Kind, retrying with
// exponential backoff and dead-lettering on exhaustion.
type Weaver struct {
	cfg      Config
	log      *logrus.Logger
	coord    *storage.Coordinator
	handlers map[storage.EventKind][]Handler
	dead     *DeadLetterQueue
}

// New constructs a Weaver bound to coord's event bus.
func New(coord *storage.Coordinator, cfg Config) *Weaver {
	cfg = cfg.withDefaults()
	return &Weaver{
		cfg:      cfg,
		log:      cfg.Logger,
		coord:    coord,
		handlers: make(map[storage.EventKind][]Handler),
		dead:     NewDeadLetterQueue(1024),
	}
}

// On registers a handler for a specific event kind. Modules call this
// during setup (e.g. the semantic indexer registers for
// EventMessageInserted).
func (w *Weaver) On(kind storage.EventKind, h Handler) {
	w.handlers[kind] = append(w.handlers[kind], h)
}

// DeadLetters exposes the dead-letter queue for diagnostics.
func (w *Weaver) DeadLetters() *DeadLetterQueue { return w.dead }

// Run consumes events from the coordinator's bus until ctx is cancelled or
// the bus closes. Each event is dispatched to its registered handlers
// sequentially; a single message id's events are only ever delivered in
// the order storage committed them, because the bus itself is a single
// ordered channel.
func (w *Weaver) Run(ctx context.Context) {
	events := w.coord.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.dispatch(ctx, ev)
		}
	}
}

func (w *Weaver) dispatch(ctx context.Context, ev storage.MutationEvent) {
	for _, h := range w.handlers[ev.Kind] {
		w.runWithRetry(ctx, ev, h)
	}
}

func (w *Weaver) runWithRetry(ctx context.Context, ev storage.MutationEvent, h Handler) {
	var lastErr error
	backoff := w.cfg.RetryBackoff
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := h(ctx, ev); err == nil {
			return
		} else {
			lastErr = err
		}
	}
	w.log.WithFields(logrus.Fields{"kind": ev.Kind, "entity_id": ev.EntityID}).
		WithError(lastErr).Warn("weaver: handler exhausted retries, dead-lettering")
	w.dead.Add(ev, lastErr)
}
