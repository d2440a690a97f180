package storage

import (
	"container/list"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mia-systems/cognitive-core/kv"
)

// Tier identifies one of the three temperature partitions of a database.
// Archive tiers are further partitioned by time bucket (e.g.
// "2024-Q4"), so Tier carries an optional bucket label.
type Tier struct {
	Name   string // "active", "recent", or "archive"
	Bucket string // set only when Name == "archive"
}

var (
	TierActive = Tier{Name: "active"}
	TierRecent = Tier{Name: "recent"}
)

// ArchiveTier returns the archive tier for the given time bucket, e.g.
// ArchiveTier("2024-Q4").
func ArchiveTier(bucket string) Tier { return Tier{Name: "archive", Bucket: bucket} }

func (t Tier) String() string {
	if t.Name == "archive" {
		return fmt.Sprintf("archive/%s", t.Bucket)
	}
	return t.Name
}

func (t Tier) dir() string {
	if t.Name == "archive" {
		return filepath.Join("archive", t.Bucket)
	}
	return t.Name
}

// tierSet owns every open KV environment for one logical database (one of
// conversations/embeddings/knowledge/summaries/tool-results/experience).
// "active" is opened eagerly and pinned; "recent" and
// "archive/<bucket>" tiers are lazy-opened on first reference and tracked in
// an LRU so the process-wide open-tier cap can be
// enforced across all databases by the owning Coordinator.
type tierSet struct {
	name string // database name, e.g. "conversations"
	root string // root/<name>
	opts kv.Options
	log  *logrus.Entry

	mu     sync.Mutex
	active *kv.Env
	lazy   map[string]*kv.Env // tier.String() -> env, excludes "active"
}

func newTierSet(root, name string, opts kv.Options, log *logrus.Entry) (*tierSet, error) {
	ts := &tierSet{
		name: name,
		root: filepath.Join(root, name),
		opts: opts,
		log:  log.WithField("db", name),
		lazy: make(map[string]*kv.Env),
	}
	env, err := kv.Open(filepath.Join(ts.root, TierActive.dir(), "data.db"), opts)
	if err != nil {
		return nil, err
	}
	ts.active = env
	return ts, nil
}

// Get returns the environment for tier, lazily opening recent/archive
// environments on first reference. The returned bool reports
// whether this call opened a new environment, so the caller's LRU can
// register it and enforce the open-tier cap.
func (ts *tierSet) Get(tier Tier) (env *kv.Env, opened bool, err error) {
	if tier.Name == "active" {
		return ts.active, false, nil
	}

	key := tier.String()
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if env, ok := ts.lazy[key]; ok {
		return env, false, nil
	}

	env, err = kv.Open(filepath.Join(ts.root, tier.dir(), "data.db"), ts.opts)
	if err != nil {
		return nil, false, err
	}
	ts.lazy[key] = env
	ts.log.WithField("tier", key).Debug("lazily opened tier environment")
	return env, true, nil
}

// Evict closes and forgets a non-active tier environment. Called by the
// owning Coordinator's LRU when the open-tier cap is exceeded.
func (ts *tierSet) Evict(tierKey string) error {
	ts.mu.Lock()
	env, ok := ts.lazy[tierKey]
	if ok {
		delete(ts.lazy, tierKey)
	}
	ts.mu.Unlock()
	if !ok {
		return nil
	}
	ts.log.WithField("tier", tierKey).Debug("evicting tier environment")
	return env.Close()
}

func (ts *tierSet) closeAll() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var firstErr error
	for k, env := range ts.lazy {
		if err := env.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(ts.lazy, k)
	}
	if err := ts.active.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// openTierRef identifies one lazily-opened (database, tier) pair in the
// process-wide LRU. "active" environments never appear here: they are
// pinned and excluded from eviction.
type openTierRef struct {
	db  string
	key string
}

// tierLRU bounds the number of concurrently open recent/archive
// environments across every database a Coordinator owns. It is a simple
// doubly-linked-list LRU guarded by a mutex, the same "bounded open set
// with eviction" shape used for worker-pool semaphores, generalized from a
// fixed worker count to a dynamic open-environment set.
type tierLRU struct {
	mu       sync.Mutex
	cap      int
	order    *list.List
	elements map[openTierRef]*list.Element
	evict    func(ref openTierRef) error
}

func newTierLRU(capacity int, evict func(openTierRef) error) *tierLRU {
	if capacity <= 0 {
		capacity = 16
	}
	return &tierLRU{
		cap:      capacity,
		order:    list.New(),
		elements: make(map[openTierRef]*list.Element),
		evict:    evict,
	}
}

// Touch records that ref was just opened or accessed, evicting the least
// recently used entry if this pushes the set over capacity.
func (l *tierLRU) Touch(ref openTierRef) {
	l.mu.Lock()
	if el, ok := l.elements[ref]; ok {
		l.order.MoveToFront(el)
		l.mu.Unlock()
		return
	}
	el := l.order.PushFront(ref)
	l.elements[ref] = el

	var toEvict *openTierRef
	if l.order.Len() > l.cap {
		back := l.order.Back()
		r := back.Value.(openTierRef)
		toEvict = &r
		l.order.Remove(back)
		delete(l.elements, r)
	}
	l.mu.Unlock()

	if toEvict != nil {
		_ = l.evict(*toEvict)
	}
}

// Forget removes ref from tracking without invoking evict.
func (l *tierLRU) Forget(ref openTierRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.elements[ref]; ok {
		l.order.Remove(el)
		delete(l.elements, ref)
	}
}

// tierForAge returns the tier an entity with the given timestamp belongs in,
// given the configured window boundaries.
func tierForAge(ts time.Time, now time.Time, activeWindow, recentWindow time.Duration) Tier {
	age := now.Sub(ts)
	switch {
	case age <= activeWindow:
		return TierActive
	case age <= recentWindow:
		return TierRecent
	default:
		return ArchiveTier(archiveBucket(ts))
	}
}

// archiveBucket buckets a timestamp into a quarterly archive partition, e.g.
// "2024-Q4".
func archiveBucket(ts time.Time) string {
	q := (int(ts.Month())-1)/3 + 1
	return fmt.Sprintf("%d-Q%d", ts.Year(), q)
}
