package embedding

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-systems/cognitive-core/indexing"
	"github.com/mia-systems/cognitive-core/storage"
)

type fakeBridge struct {
	dim int
}

func (f *fakeBridge) GenerateEmbedding(_ context.Context, _ storage.Resolution, text string) ([]float32, error) {
	v := make([]float32, f.dim)
	for i, r := range text {
		v[i%f.dim] += float32(r % 7)
	}
	return v, nil
}

func (f *fakeBridge) ExtractEntities(context.Context, string) ([]ExtractedEntity, error) { return nil, nil }
func (f *fakeBridge) Summarize(context.Context, []string) (string, error)                { return "", nil }
func (f *fakeBridge) Rerank(_ context.Context, _ string, candidates []Candidate) ([]Scored, error) {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{ID: c.ID, Score: float32(len(c.Text))}
	}
	return out, nil
}
func (f *fakeBridge) HealthCheck(context.Context) bool { return true }

func newTestCoordinator(t *testing.T) *storage.Coordinator {
	t.Helper()
	c, err := storage.Open(storage.Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEmbedFastWritesThroughStorageAndIndex(t *testing.T) {
	coord := newTestCoordinator(t)
	idx := indexing.NewHNSW(DimFast, indexing.HNSWConfig{})
	pipe := NewPipeline(&fakeBridge{dim: DimFast}, coord, idx, nil, "fake-v1")

	emb, err := pipe.EmbedFast(context.Background(), "msg-1", "hello world this is a test message")
	require.NoError(t, err)
	assert.Len(t, emb.Vector, DimFast)
	assert.Equal(t, 1, idx.Len())

	stored, err := coord.GetEmbedding(context.Background(), "msg-1", storage.ResolutionFast384)
	require.NoError(t, err)
	assert.Equal(t, emb.Vector, stored.Vector)
}

func TestChunkSplitsOnTokenBudget(t *testing.T) {
	text := strings.Repeat("word ", 1500)
	chunks := Chunk(text)
	assert.Len(t, chunks, 3)
}

func TestMeanPoolNormalizes(t *testing.T) {
	pooled := MeanPool([][]float32{{1, 0}, {0, 1}})
	var sumSq float64
	for _, x := range pooled {
		sumSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-6)
}

func TestRerankScoresCandidates(t *testing.T) {
	coord := newTestCoordinator(t)
	pipe := NewPipeline(&fakeBridge{dim: DimFast}, coord, nil, nil, "fake-v1")
	scored, err := pipe.Rerank(context.Background(), "query", nil, []Candidate{{ID: "a", Text: "short"}, {ID: "b", Text: "a longer candidate text"}})
	require.NoError(t, err)
	require.Len(t, scored, 2)
}
