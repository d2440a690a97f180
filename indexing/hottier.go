package indexing

import (
	"sync"
	"time"
)

// HotTier is the in-memory overlay: reads try the hot tier first and fall
// back to the cold index in storage on miss; writes update both. It is
// sharded with sync.Map instead of a single mutex-guarded map to keep
// concurrent reads effectively lock-free.
type HotTier struct {
	vectors   sync.Map // id -> hotEntry{[]float32}
	adjacency sync.Map // id -> hotEntry{[]string}

	admission  int // minimum access count before a cold entry gets promoted
	mu         sync.Mutex
	accessLog  map[string]int
	lruOrder   []string
	cap        int
	now        func() time.Time
}

type hotVectorEntry struct {
	vector    []float32
	touchedAt time.Time
}

type hotAdjacencyEntry struct {
	neighbors []string
	touchedAt time.Time
}

// NewHotTier constructs an overlay admitting entries after admissionThreshold
// accesses, capped at maxEntries total. Accesses are counted with no time
// window.
func NewHotTier(maxEntries, admissionThreshold int) *HotTier {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	if admissionThreshold <= 0 {
		admissionThreshold = 2
	}
	return &HotTier{
		admission: admissionThreshold,
		accessLog: make(map[string]int),
		cap:       maxEntries,
		now:       time.Now,
	}
}

// GetVector returns a cached vector for id, or ok=false on a miss, in which
// case the caller should fall back to the cold vector table and call
// RecordAccess/PutVector.
func (h *HotTier) GetVector(id string) ([]float32, bool) {
	v, ok := h.vectors.Load(id)
	if !ok {
		return nil, false
	}
	e := v.(hotVectorEntry)
	return e.vector, true
}

// GetAdjacency returns cached outgoing neighbor ids for id.
func (h *HotTier) GetAdjacency(id string) ([]string, bool) {
	v, ok := h.adjacency.Load(id)
	if !ok {
		return nil, false
	}
	return v.(hotAdjacencyEntry).neighbors, true
}

// RecordAccess increments id's access counter and returns whether this
// access crosses the admission threshold, meaning the caller should now
// promote id into the hot tier via PutVector/PutAdjacency.
func (h *HotTier) RecordAccess(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accessLog[id]++
	return h.accessLog[id] >= h.admission
}

// PutVector admits or refreshes id's vector in the hot tier, evicting the
// least-recently-touched entry if this exceeds capacity.
func (h *HotTier) PutVector(id string, vector []float32) {
	h.vectors.Store(id, hotVectorEntry{vector: vector, touchedAt: h.now()})
	h.touch(id)
	h.evictIfNeeded()
}

// PutAdjacency admits or refreshes id's outgoing neighbor list.
func (h *HotTier) PutAdjacency(id string, neighbors []string) {
	h.adjacency.Store(id, hotAdjacencyEntry{neighbors: neighbors, touchedAt: h.now()})
	h.touch(id)
	h.evictIfNeeded()
}

// Invalidate drops id from both maps, used whenever storage commits a write
// that changes its cold value so the hot tier never serves stale data.
func (h *HotTier) Invalidate(id string) {
	h.vectors.Delete(id)
	h.adjacency.Delete(id)
}

func (h *HotTier) touch(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.lruOrder {
		if existing == id {
			h.lruOrder = append(h.lruOrder[:i], h.lruOrder[i+1:]...)
			break
		}
	}
	h.lruOrder = append(h.lruOrder, id)
}

func (h *HotTier) evictIfNeeded() {
	h.mu.Lock()
	var evictID string
	evicted := false
	if len(h.lruOrder) > h.cap {
		evictID = h.lruOrder[0]
		h.lruOrder = h.lruOrder[1:]
		evicted = true
	}
	h.mu.Unlock()

	if evicted {
		h.vectors.Delete(evictID)
		h.adjacency.Delete(evictID)
	}
}
