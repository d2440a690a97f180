// Package indexing is the pure indexing service of the cognitive memory
// core: it never opens its own KV environment — every index it
// builds lives inside a storage-owned environment and is updated in the
// same write transaction as the data it indexes. This package supplies the
// vector (HNSW), and graph-algorithm pieces of that service; the
// structural and graph adjacency indexes themselves are maintained inline
// by storage (chat.go, knowledge.go) because they are simple enough to not
// warrant a separate abstraction description of them as
// B-tree and bidirectional-adjacency tables colocated with their data.
package indexing

import (
	"container/heap"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// HNSWConfig configures a vector index. Defaults match common
// vector-index configurations (M=16, EfConstruction=200, EfSearch=50).
type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
	Metric         Metric
	Logger         *logrus.Entry
}

// Metric selects the distance function used for both construction and
// search.
type Metric int

const (
	MetricCosine Metric = iota
	MetricDot
	MetricL2
)

func (c HNSWConfig) withDefaults() HNSWConfig {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

type hnswNode struct {
	id        string
	vector    []float32
	neighbors [][]string // neighbors[layer] = ids
	tombstone bool
}

// HNSW is an in-memory Hierarchical Navigable Small World graph. It is
// always rebuildable from the vectors table, so this
// type holds no persistence of its own: storage.Coordinator's embeddings
// environment is the source of truth, and Rebuild (rebuild.go) reloads an
// HNSW instance from it after a crash or on first open.
type HNSW struct {
	cfg HNSWConfig

	writeMu sync.Mutex // serializes Insert; Search never takes it

	mu        sync.Mutex // guards the fields below; held only for each individual access
	nodes     map[string]*hnswNode
	entry     string
	maxLayer  int
	dim       int
	tombstone map[string]bool
}

// NewHNSW constructs an empty index for vectors of the given dimension.
func NewHNSW(dim int, cfg HNSWConfig) *HNSW {
	cfg = cfg.withDefaults()
	return &HNSW{
		cfg:       cfg,
		nodes:     make(map[string]*hnswNode),
		dim:       dim,
		tombstone: make(map[string]bool),
	}
}

// Len reports the number of live (non-tombstoned) vectors.
func (h *HNSW) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id := range h.nodes {
		if !h.tombstone[id] {
			n++
		}
	}
	return n
}

// Insert adds or replaces the vector for id. writeMu serializes inserts;
// mu is taken only around each individual map or field access, so
// concurrent Search calls are not blocked for the length of an insert.
func (h *HNSW) Insert(id string, vector []float32) error {
	if len(vector) != h.dim {
		return fmt.Errorf("indexing: vector dimension %d does not match index dimension %d", len(vector), h.dim)
	}
	layer := h.randomLayer()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	node := &hnswNode{id: id, vector: normalizeIfCosine(vector, h.cfg.Metric), neighbors: make([][]string, layer+1)}
	h.mu.Lock()
	h.nodes[id] = node
	delete(h.tombstone, id)

	if h.entry == "" {
		h.entry = id
		h.maxLayer = layer
		h.mu.Unlock()
		return nil
	}

	ep, maxLayer := h.entry, h.maxLayer
	h.mu.Unlock()
	for l := maxLayer; l > layer; l-- {
		ep = h.greedyClosest(ep, node.vector, l)
	}
	for l := min(layer, maxLayer); l >= 0; l-- {
		candidates := h.searchLayer(node.vector, ep, h.cfg.EfConstruction, l)
		neighbors := selectNeighbors(candidates, h.cfg.M)
		h.mu.Lock()
		node.neighbors[l] = neighbors
		h.mu.Unlock()
		for _, nb := range neighbors {
			h.linkBack(nb, id, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].ID
		}
	}

	h.mu.Lock()
	if layer > h.maxLayer {
		h.maxLayer = layer
		h.entry = id
	}
	h.mu.Unlock()
	return nil
}

// Delete tombstones id so Search skips it; Rebuild physically reclaims
// tombstoned entries by rebuilding from the vectors table.
func (h *HNSW) Delete(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tombstone[id] = true
}

// Vector returns id's stored, metric-normalized vector, or false if id
// isn't indexed (or was tombstoned). Like Search, it holds mu only for the
// map lookups.
func (h *HNSW) Vector(id string) ([]float32, bool) {
	h.mu.Lock()
	dead := h.tombstone[id]
	node, ok := h.nodes[id]
	h.mu.Unlock()
	if dead || !ok {
		return nil, false
	}
	out := make([]float32, len(node.vector))
	copy(out, node.vector)
	return out, true
}

// Similarity scores query against id's stored vector using the index's own
// metric and normalization, converting distance into a "higher is better"
// value so callers never need to know which metric is configured.
func (h *HNSW) Similarity(id string, query []float32) (float32, bool) {
	vec, ok := h.Vector(id)
	if !ok {
		return 0, false
	}
	q := normalizeIfCosine(query, h.cfg.Metric)
	return -distance(vec, q, h.cfg.Metric), true
}

// ScoredID is one HNSW search result.
type ScoredID struct {
	ID       string
	Distance float32
}

// Search returns up to k nearest neighbors of query, breadth bounded by ef,
// returning (id, distance) pairs. If ef <= 0, the configured EfSearch
// default is used.
func (h *HNSW) Search(query []float32, k, ef int) ([]ScoredID, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("indexing: query dimension %d does not match index dimension %d", len(query), h.dim)
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}

	h.mu.Lock()
	entry, maxLayer := h.entry, h.maxLayer
	h.mu.Unlock()
	if entry == "" {
		return nil, nil
	}

	q := normalizeIfCosine(query, h.cfg.Metric)
	ep := entry
	for l := maxLayer; l > 0; l-- {
		ep = h.greedyClosest(ep, q, l)
	}
	candidates := h.searchLayer(q, ep, ef, 0)

	out := make([]ScoredID, 0, k)
	for _, c := range candidates {
		h.mu.Lock()
		skip := h.tombstone[c.ID]
		h.mu.Unlock()
		if skip {
			continue
		}
		out = append(out, c)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (h *HNSW) greedyClosest(from string, q []float32, layer int) string {
	h.mu.Lock()
	cur := h.nodes[from]
	h.mu.Unlock()
	if cur == nil {
		return from
	}
	best := from
	bestDist := distance(cur.vector, q, h.cfg.Metric)
	improved := true
	for improved {
		improved = false
		h.mu.Lock()
		node := h.nodes[best]
		var neighbors []string
		if node != nil && layer < len(node.neighbors) {
			neighbors = node.neighbors[layer]
		}
		h.mu.Unlock()
		for _, nb := range neighbors {
			h.mu.Lock()
			nbNode := h.nodes[nb]
			h.mu.Unlock()
			if nbNode == nil {
				continue
			}
			d := distance(nbNode.vector, q, h.cfg.Metric)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

// searchLayer performs a greedy beam search of width ef at layer, starting
// from ep, returning candidates sorted nearest-first.
func (h *HNSW) searchLayer(q []float32, ep string, ef, layer int) []ScoredID {
	visited := map[string]bool{ep: true}
	candHeap := &nearHeap{}
	resultHeap := &farHeap{}

	h.mu.Lock()
	epNode := h.nodes[ep]
	h.mu.Unlock()
	if epNode == nil {
		return nil
	}
	d0 := distance(epNode.vector, q, h.cfg.Metric)
	heap.Push(candHeap, ScoredID{ep, d0})
	heap.Push(resultHeap, ScoredID{ep, d0})

	for candHeap.Len() > 0 {
		cur := heap.Pop(candHeap).(ScoredID)
		worst := (*resultHeap)[0]
		if resultHeap.Len() >= ef && cur.Distance > worst.Distance {
			break
		}

		h.mu.Lock()
		node := h.nodes[cur.ID]
		var neighbors []string
		if node != nil && layer < len(node.neighbors) {
			neighbors = node.neighbors[layer]
		}
		h.mu.Unlock()

		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			h.mu.Lock()
			nbNode := h.nodes[nb]
			h.mu.Unlock()
			if nbNode == nil {
				continue
			}
			d := distance(nbNode.vector, q, h.cfg.Metric)
			if resultHeap.Len() < ef || d < (*resultHeap)[0].Distance {
				heap.Push(candHeap, ScoredID{nb, d})
				heap.Push(resultHeap, ScoredID{nb, d})
				if resultHeap.Len() > ef {
					heap.Pop(resultHeap)
				}
			}
		}
	}

	out := make([]ScoredID, resultHeap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(resultHeap).(ScoredID)
	}
	return out
}

func (h *HNSW) linkBack(id, newNeighbor string, layer int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.nodes[id]
	if !ok || layer >= len(node.neighbors) {
		return
	}
	for _, existing := range node.neighbors[layer] {
		if existing == newNeighbor {
			return
		}
	}
	node.neighbors[layer] = append(node.neighbors[layer], newNeighbor)
}

func selectNeighbors(candidates []ScoredID, m int) []string {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.ID
	}
	return out
}

// randomLayer draws an exponentially-distributed layer the way the
// original HNSW paper does, using a fixed level multiplier derived from M
// so construction stays deterministic for a given M without pulling in a
// full RNG abstraction.
func (h *HNSW) randomLayer() int {
	levelMult := 1.0 / math.Log(float64(h.cfg.M))
	r := pseudoRandom()
	layer := int(-math.Log(r) * levelMult)
	if layer > 31 {
		layer = 31
	}
	return layer
}

// pseudoRandom returns a value in (0, 1]. The HNSW layer draw only needs a
// statistically reasonable spread, not cryptographic or seed-reproducible
// randomness, so a tiny xorshift-style generator seeded from a package
// counter avoids importing math/rand into this hot insert path.
var randState uint64 = 0x9e3779b97f4a7c15

func pseudoRandom() float64 {
	randState ^= randState << 13
	randState ^= randState >> 7
	randState ^= randState << 17
	v := float64(randState%1_000_000) / 1_000_000
	if v <= 0 {
		v = 0.000001
	}
	return v
}

func normalizeIfCosine(v []float32, m Metric) []float32 {
	if m != MetricCosine {
		return v
	}
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func distance(a, b []float32, m Metric) float32 {
	switch m {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i] - b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	case MetricDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(-dot)
	default: // cosine, vectors already normalized
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(1 - dot)
	}
}

// nearHeap is a min-heap by distance, used to pop the closest unexplored
// candidate during a layer search.
type nearHeap []ScoredID

func (h nearHeap) Len() int            { return len(h) }
func (h nearHeap) Less(i, j int) bool  { return h[i].Distance < h[j].Distance }
func (h nearHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nearHeap) Push(x interface{}) { *h = append(*h, x.(ScoredID)) }
func (h *nearHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// farHeap is a max-heap by distance, bounding the running result set to the
// ef nearest candidates seen so far.
type farHeap []ScoredID

func (h farHeap) Len() int            { return len(h) }
func (h farHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h farHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *farHeap) Push(x interface{}) { *h = append(*h, x.(ScoredID)) }
func (h *farHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
