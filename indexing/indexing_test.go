package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHNSWInsertAndSearchReturnsExactNWhenKGreaterThanN(t *testing.T) {
	idx := NewHNSW(3, HNSWConfig{})
	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1, 0}))
	require.NoError(t, idx.Insert("c", []float32{0, 0, 1}))

	results, err := idx.Search([]float32{1, 0, 0}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, results, 3, "k >= N must return exactly N results")
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWDeleteTombstonesAndSkipsInSearch(t *testing.T) {
	idx := NewHNSW(2, HNSWConfig{})
	require.NoError(t, idx.Insert("a", []float32{1, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1}))

	idx.Delete("a")
	results, err := idx.Search([]float32{1, 0}, 5, 0)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

func TestHNSWRejectsDimensionMismatch(t *testing.T) {
	idx := NewHNSW(4, HNSWConfig{})
	err := idx.Insert("a", []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestDijkstraFindsShortestPath(t *testing.T) {
	g := MapGraph{
		"a": {"b": 1, "c": 4},
		"b": {"c": 1},
		"c": {},
	}
	dist, _ := Dijkstra(g, "a")
	assert.Equal(t, 2.0, dist["c"])
}

func TestAStarFindsPath(t *testing.T) {
	g := MapGraph{
		"a": {"b": 1},
		"b": {"c": 1},
		"c": {},
	}
	path, cost, found := AStar(g, "a", "c", func(string) float64 { return 0 })
	require.True(t, found)
	assert.Equal(t, []string{"a", "b", "c"}, path)
	assert.Equal(t, 2.0, cost)
}

func TestBellmanFordDetectsNegativeCycle(t *testing.T) {
	g := MapGraph{
		"a": {"b": 1},
		"b": {"c": -3},
		"c": {"a": 1},
	}
	_, negCycle := BellmanFord(g, []string{"a", "b", "c"}, "a")
	assert.True(t, negCycle)
}

func TestPageRankConvergesOnSimpleRing(t *testing.T) {
	g := MapGraph{
		"a": {"b": 1},
		"b": {"c": 1},
		"c": {"a": 1},
	}
	rank := PageRank(g, []string{"a", "b", "c"}, 0.85, 100, 1e-9)
	assert.InDelta(t, rank["a"], rank["b"], 1e-6)
	assert.InDelta(t, rank["b"], rank["c"], 1e-6)
}

func TestTarjanSCCFindsCycle(t *testing.T) {
	g := MapGraph{
		"a": {"b": 1},
		"b": {"c": 1},
		"c": {"a": 1},
		"d": {},
	}
	sccs := TarjanSCC(g, []string{"a", "b", "c", "d"})
	var foundTriple bool
	for _, c := range sccs {
		if len(c) == 3 {
			foundTriple = true
		}
	}
	assert.True(t, foundTriple)
}

func TestValidateDAGDetectsCycle(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "a", Requires: []string{"b"}},
		{ID: "b", Requires: []string{"a"}},
	}
	err := ValidateDAG(nodes)
	assert.Error(t, err)
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	nodes := []DependencyNode{
		{ID: "embed_m1"},
		{ID: "embed_m2"},
		{ID: "summarize", Requires: []string{"embed_m1", "embed_m2"}},
	}
	order, err := ExecutionOrder(nodes)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, "summarize", order[2].ID)
}

func TestHotTierAdmissionAndEviction(t *testing.T) {
	ht := NewHotTier(2, 1)
	ht.PutVector("a", []float32{1})
	ht.PutVector("b", []float32{2})
	ht.PutVector("c", []float32{3}) // evicts "a", the least recently touched

	_, ok := ht.GetVector("a")
	assert.False(t, ok)
	_, ok = ht.GetVector("c")
	assert.True(t, ok)
}
