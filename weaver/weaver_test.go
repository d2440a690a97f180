package weaver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-systems/cognitive-core/embedding"
	"github.com/mia-systems/cognitive-core/indexing"
	"github.com/mia-systems/cognitive-core/scheduler"
	"github.com/mia-systems/cognitive-core/storage"
)

type fakeBridge struct {
	dim int
}

func (f *fakeBridge) GenerateEmbedding(_ context.Context, _ storage.Resolution, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r % 5)
	}
	return v, nil
}

func (f *fakeBridge) ExtractEntities(context.Context, string) ([]embedding.ExtractedEntity, error) {
	return []embedding.ExtractedEntity{{Label: "Go", Type: "topic", Confidence: 0.9}}, nil
}
func (f *fakeBridge) Summarize(_ context.Context, messages []string) (string, error) {
	return "summary of " + string(rune(len(messages))), nil
}
func (f *fakeBridge) Rerank(context.Context, string, []embedding.Candidate) ([]embedding.Scored, error) {
	return nil, nil
}
func (f *fakeBridge) HealthCheck(context.Context) bool { return true }

func newTestCoordinator(t *testing.T) *storage.Coordinator {
	t.Helper()
	c, err := storage.Open(storage.Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSemanticIndexerEnqueuesFastAndAccurateTasks(t *testing.T) {
	coord := newTestCoordinator(t)
	chat, err := coord.CreateChat(&storage.Chat{Title: "t"})
	require.NoError(t, err)
	msg, err := coord.InsertMessage(context.Background(), &storage.Message{ChatID: chat.ID, Text: "hello world"})
	require.NoError(t, err)

	idx := indexing.NewHNSW(embedding.DimFast, indexing.HNSWConfig{})
	pipe := embedding.NewPipeline(&fakeBridge{dim: embedding.DimFast}, coord, idx, nil, "v1")
	sched := scheduler.New(scheduler.Config{})
	sched.Start(context.Background())
	defer sched.Stop(time.Second)

	w := New(coord, Config{})
	NewSemanticIndexer(w, coord, pipe, sched)

	require.NoError(t, w.dispatchTestHelper(context.Background(), storage.MutationEvent{
		Kind: storage.EventMessageInserted, EntityID: msg.ID, ChatID: chat.ID,
	}))

	require.Eventually(t, func() bool {
		_, err := coord.GetEmbedding(context.Background(), msg.ID, storage.ResolutionFast384)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestEntityLinkerCreatesMentionsEdge(t *testing.T) {
	coord := newTestCoordinator(t)
	chat, err := coord.CreateChat(&storage.Chat{Title: "t"})
	require.NoError(t, err)
	msg, err := coord.InsertMessage(context.Background(), &storage.Message{ChatID: chat.ID, Text: "I love Go"})
	require.NoError(t, err)

	w := New(coord, Config{})
	NewEntityLinker(w, coord, &fakeBridge{dim: 4})

	require.NoError(t, w.dispatchTestHelper(context.Background(), storage.MutationEvent{
		Kind: storage.EventMessageInserted, EntityID: msg.ID, ChatID: chat.ID,
	}))

	ents, err := coord.EntitiesByType(context.Background(), "topic")
	require.NoError(t, err)
	require.Len(t, ents, 1)

	outgoing, err := coord.OutgoingEdges(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Len(t, outgoing, 1)

	incoming, err := coord.IncomingEdges(context.Background(), ents[0].ID)
	require.NoError(t, err)
	assert.Len(t, incoming, 1)
}

func TestWeaverDeadLettersAfterRetryExhaustion(t *testing.T) {
	coord := newTestCoordinator(t)
	w := New(coord, Config{MaxRetries: 2, RetryBackoff: time.Millisecond})

	var calls int32
	w.On(storage.EventChatCreated, func(ctx context.Context, ev storage.MutationEvent) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always fails")
	})

	w.dispatch(context.Background(), storage.MutationEvent{Kind: storage.EventChatCreated, EntityID: "x"})

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, w.DeadLetters().Len())
}

func TestSummarizerRequiresEmbeddingsFirst(t *testing.T) {
	coord := newTestCoordinator(t)
	chat, err := coord.CreateChat(&storage.Chat{Title: "t"})
	require.NoError(t, err)
	msg, err := coord.InsertMessage(context.Background(), &storage.Message{ChatID: chat.ID, Text: "hi"})
	require.NoError(t, err)

	s := NewSummarizer(coord, &fakeBridge{dim: 4})
	_, err = s.Summarize(context.Background(), storage.ScopeDaily, chat.ID, msg.Timestamp.Add(-time.Hour), msg.Timestamp.Add(time.Hour))
	assert.Error(t, err, "summarize should fail before the message has an embedding")

	_, err = coord.PutEmbedding(&storage.Embedding{SourceID: msg.ID, Resolution: storage.ResolutionFast384, Vector: []float32{1, 0}})
	require.NoError(t, err)

	summary, err := s.Summarize(context.Background(), storage.ScopeDaily, chat.ID, msg.Timestamp.Add(-time.Hour), msg.Timestamp.Add(time.Hour))
	require.NoError(t, err)
	assert.Contains(t, summary.CoveredMessageIDs, msg.ID)
}

// dispatchTestHelper exposes dispatch (package-private) so module-level
// tests can drive a single event without running Weaver.Run's loop.
func (w *Weaver) dispatchTestHelper(ctx context.Context, ev storage.MutationEvent) error {
	w.dispatch(ctx, ev)
	return nil
}
