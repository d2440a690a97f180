package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-systems/cognitive-core/embedding"
	"github.com/mia-systems/cognitive-core/indexing"
	"github.com/mia-systems/cognitive-core/scheduler"
	"github.com/mia-systems/cognitive-core/storage"
)

type fakeBridge struct{ dim int }

func (f *fakeBridge) GenerateEmbedding(_ context.Context, _ storage.Resolution, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r % 7)
	}
	return v, nil
}
func (f *fakeBridge) ExtractEntities(context.Context, string) ([]embedding.ExtractedEntity, error) {
	return nil, nil
}
func (f *fakeBridge) Summarize(context.Context, []string) (string, error) { return "", nil }
func (f *fakeBridge) Rerank(_ context.Context, _ string, candidates []embedding.Candidate) ([]embedding.Scored, error) {
	out := make([]embedding.Scored, len(candidates))
	for i, c := range candidates {
		out[i] = embedding.Scored{ID: c.ID, Score: float32(len(c.Text))}
	}
	return out, nil
}
func (f *fakeBridge) HealthCheck(context.Context) bool { return true }

func newTestEngine(t *testing.T) (*Engine, *storage.Coordinator) {
	t.Helper()
	coord, err := storage.Open(storage.Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	idx := indexing.NewHNSW(embedding.DimFast, indexing.HNSWConfig{})
	pipe := embedding.NewPipeline(&fakeBridge{dim: embedding.DimFast}, coord, idx, nil, "v1")
	sched := scheduler.New(scheduler.Config{})

	return New(coord, pipe, sched, Config{}), coord
}

func TestExecuteReturnsStructurallyAndSemanticallyMatchedMessage(t *testing.T) {
	engine, coord := newTestEngine(t)
	ctx := context.Background()

	chat, err := coord.CreateChat(&storage.Chat{Title: "c"})
	require.NoError(t, err)
	msg, err := coord.InsertMessage(ctx, &storage.Message{ChatID: chat.ID, Text: "deploying the new search pipeline"})
	require.NoError(t, err)

	_, err = coord.PutEmbedding(&storage.Embedding{SourceID: msg.ID, Resolution: storage.ResolutionFast384, Vector: mustEmbed(t, engine, msg.Text)})
	require.NoError(t, err)
	require.NoError(t, engine.pipe.FastIndex().Insert(msg.ID, mustEmbed(t, engine, msg.Text)))

	result, err := engine.Execute(ctx, Query{
		Semantic:  "search pipeline",
		TimeScope: ScopeAllTime,
		Context:   Context{Kind: ContextCurrentChat, ChatID: chat.ID},
		Limit:     5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Results)
	assert.Equal(t, msg.ID, result.Results[0].MessageID)
	assert.Contains(t, result.StagesRun, "semantic_search")
}

func TestExecuteRecordsPerformanceStat(t *testing.T) {
	engine, coord := newTestEngine(t)
	ctx := context.Background()

	chat, err := coord.CreateChat(&storage.Chat{Title: "c"})
	require.NoError(t, err)

	_, err = engine.Execute(ctx, Query{
		Semantic:  "anything",
		TimeScope: ScopeAllTime,
		Context:   Context{Kind: ContextCurrentChat, ChatID: chat.ID},
		Limit:     5,
	})
	require.NoError(t, err)

	stats, err := coord.Meta().BeginRead(context.Background())
	require.NoError(t, err)
	defer stats.Release()
	cur, err := stats.Cursor(storage.TablePerfStats)
	require.NoError(t, err)
	var count int
	cur.ForEachPrefix(nil, func(_, _ []byte) bool { count++; return true })
	assert.Equal(t, 1, count)
}

func TestSearchDepthHops(t *testing.T) {
	assert.Equal(t, 1, SearchDepth{Kind: DepthShallow}.Hops())
	assert.Equal(t, 3, SearchDepth{Kind: DepthLevel, Level: 3}.Hops())
	assert.Equal(t, 4, SearchDepth{Kind: DepthDeep}.Hops())
}

func TestDownshiftNarrowsOverBudget(t *testing.T) {
	q := Query{Temperature: TemperatureAll, SearchDepth: SearchDepth{Kind: DepthDeep}, UseKnowledgeGraph: true}
	plan := staticEstimate(q)
	narrowed, newPlan := downshift(q, plan, 1)
	assert.True(t, newPlan.Downshifted)
	assert.NotEqual(t, TemperatureAll, narrowed.Temperature)
}

func mustEmbed(t *testing.T, e *Engine, text string) []float32 {
	t.Helper()
	v, _, err := e.pipe.EmbedQuery(context.Background(), text)
	require.NoError(t, err)
	return v
}
