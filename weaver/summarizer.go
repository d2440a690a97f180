package weaver

import (
	"context"
	"fmt"
	"time"

	"github.com/mia-systems/cognitive-core/embedding"
	"github.com/mia-systems/cognitive-core/indexing"
	"github.com/mia-systems/cognitive-core/storage"
)

// Summarizer groups messages by scope and calls MlBridge.summarize on
// schedule (end of day/week/month) or on a context-length trigger, writing
// Summary records.
type Summarizer struct {
	coord  *storage.Coordinator
	bridge embedding.MlBridge
}

// NewSummarizer constructs a Summarizer. It is driven by the scheduler
// (KindSummarize tasks), not by the event bus directly, since
// summarization runs on a schedule rather than per-mutation.
func NewSummarizer(coord *storage.Coordinator, bridge embedding.MlBridge) *Summarizer {
	return &Summarizer{coord: coord, bridge: bridge}
}

// Summarize groups chatID's messages in [start, end) under scope, requires
// every message to have a committed fast embedding before it is eligible
// (a summary covering an unembedded message would reference content the
// semantic search stage can't yet find), and writes the resulting Summary.
//
// The eligibility check is expressed as one dependency graph with a node
// per message and a summary node that requires all of them, validated with
// indexing's ValidateDAG and ExecutionOrder.
func (s *Summarizer) Summarize(ctx context.Context, scope storage.SummaryScope, chatID string, start, end time.Time) (*storage.Summary, error) {
	msgs, err := s.coord.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	inScope := storage.MessagesInTimeRange(msgs, start, end)
	if len(inScope) == 0 {
		return nil, fmt.Errorf("summarizer: no messages in range for chat %s", chatID)
	}

	if err := s.requireEmbeddings(ctx, inScope); err != nil {
		return nil, err
	}

	texts := make([]string, len(inScope))
	ids := make([]string, len(inScope))
	for i, m := range inScope {
		texts[i] = m.Text
		ids[i] = m.ID
	}

	text, err := s.bridge.Summarize(ctx, texts)
	if err != nil {
		return nil, err
	}

	return s.coord.PutSummary(&storage.Summary{
		Scope:             scope,
		StartTS:           start,
		EndTS:             end,
		Text:              text,
		CoveredMessageIDs: ids,
	})
}

// requireEmbeddings builds a dependency node per message ("summary" depends
// on every message's embedding being committed) and uses ValidateDAG/
// ExecutionOrder purely to express and check that precondition uniformly
// with the rest of the module's dependency handling.
func (s *Summarizer) requireEmbeddings(ctx context.Context, msgs []*storage.Message) error {
	nodes := make([]indexing.DependencyNode, 0, len(msgs)+1)
	summaryNode := indexing.DependencyNode{ID: "summary"}
	for _, m := range msgs {
		summaryNode.Requires = append(summaryNode.Requires, m.ID)
		nodes = append(nodes, indexing.DependencyNode{ID: m.ID})
	}
	nodes = append(nodes, summaryNode)

	if err := indexing.ValidateDAG(nodes); err != nil {
		return fmt.Errorf("summarizer: dependency error: %w", err)
	}
	order, err := indexing.ExecutionOrder(nodes)
	if err != nil {
		return err
	}
	for _, n := range order {
		if n.ID == "summary" {
			continue
		}
		ok, err := s.coord.HasEmbedding(ctx, n.ID, storage.ResolutionFast384)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("summarizer: message %s has no fast embedding yet", n.ID)
		}
	}
	return nil
}
