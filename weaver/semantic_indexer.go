package weaver

import (
	"context"

	"github.com/mia-systems/cognitive-core/embedding"
	"github.com/mia-systems/cognitive-core/scheduler"
	"github.com/mia-systems/cognitive-core/storage"
)

// SemanticIndexer reacts to MessageInserted by enqueuing the fast embed at
// Urgent priority (so the message is searchable almost immediately) and the
// accurate embed at Low priority
type SemanticIndexer struct {
	coord *storage.Coordinator
	pipe  *embedding.Pipeline
	sched *scheduler.Scheduler
}

// NewSemanticIndexer constructs a SemanticIndexer and registers its
// handler on w for EventMessageInserted.
func NewSemanticIndexer(w *Weaver, coord *storage.Coordinator, pipe *embedding.Pipeline, sched *scheduler.Scheduler) *SemanticIndexer {
	si := &SemanticIndexer{coord: coord, pipe: pipe, sched: sched}
	w.On(storage.EventMessageInserted, si.handle)
	return si
}

func (si *SemanticIndexer) handle(ctx context.Context, ev storage.MutationEvent) error {
	msg, err := si.coord.GetMessage(ctx, ev.ChatID, ev.EntityID)
	if err != nil {
		return err
	}

	_, err = si.sched.Enqueue(scheduler.Task{
		Kind:     scheduler.KindEmbedFast,
		Priority: scheduler.PriorityUrgent,
		EntityID: msg.ID,
		Run: func(ctx context.Context) error {
			_, err := si.pipe.EmbedFast(ctx, msg.ID, msg.Text)
			return err
		},
	})
	if err != nil {
		return err
	}

	_, err = si.sched.Enqueue(scheduler.Task{
		Kind:     scheduler.KindEmbedAccurate,
		Priority: scheduler.PriorityLow,
		EntityID: msg.ID,
		Run: func(ctx context.Context) error {
			_, err := si.pipe.EmbedAccurate(ctx, msg.ID, msg.Text)
			return err
		},
	})
	return err
}
