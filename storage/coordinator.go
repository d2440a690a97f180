// Package storage implements the Storage module of the cognitive memory
// core: the multi-database Coordinator, its three-tier temperature
// model, the typed entity schema, and the mutation event bus the weaver and
// scheduler consume. It is the only package above kv that understands what
// a Chat, Message, Entity, or ActionOutcome is.
package storage

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mia-systems/cognitive-core/kv"
)

// Database names, matching the on-disk layout
const (
	DBConversations = "conversations"
	DBEmbeddings    = "embeddings"
	DBKnowledge     = "knowledge"
	DBSummaries     = "summaries"
	DBToolResults   = "tool-results"
	DBExperience    = "experience"
	DBMeta          = "meta"
	DBModelCache    = "model-cache"
	DBLogs          = "logs"
)

// Table (bucket) names within each database's environment.
const (
	TableChats    = "chats"
	TableMessages = "messages"

	TableVectors = "vectors"

	TableEntities = "entities"
	TableEdges    = "edges"
	// Index tables living in the same environment as their source data so a
	// single write transaction can update both.
	TableGraphOut = "graph_outgoing"
	TableGraphIn  = "graph_incoming"
	TableStruct   = "struct_idx"

	TableSummaries = "summaries"

	TableToolResults = "tool_results"

	TableOutcomes = "outcomes"
	TablePatterns = "patterns"

	TableRoutingCache = "routing_cache"
	TablePerfStats    = "performance_stats"

	TableModelBlobs = "blobs"

	TableLogEvents = "events"
)

// Config configures a Coordinator. ActiveWindow/RecentWindow/OpenTierCap
// correspond directly to the tunables
type Config struct {
	RootPath     string
	ActiveWindow time.Duration
	RecentWindow time.Duration
	OpenTierCap  int
	EventBufSize int
	Logger       *logrus.Entry
}

func (c Config) withDefaults() Config {
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = 30 * 24 * time.Hour
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 90 * 24 * time.Hour
	}
	if c.OpenTierCap <= 0 {
		c.OpenTierCap = 16
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return c
}

// Coordinator owns every database in the system and is the sole entry point
// higher layers (indexing, embedding, weaver, scheduler, query) use to reach
// storage.
type Coordinator struct {
	cfg Config
	log *logrus.Entry

	tiered map[string]*tierSet // conversations, embeddings, knowledge, summaries, tool-results, experience
	lru    *tierLRU

	meta      *kv.Env // non-tiered: routing cache + performance stats
	modelCache *kv.Env // non-tiered: downloaded model blobs
	logs      *kv.Env // non-tiered, lossy: system events

	events *eventBus
}

// Open opens every eagerly-required environment: the active tier of every
// tiered database, plus meta and model-cache. Tiered databases' recent/archive
// tiers and logs are opened lazily/best-effort.
func Open(cfg Config) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger.WithField("component", "coordinator")

	c := &Coordinator{
		cfg:    cfg,
		log:    log,
		tiered: make(map[string]*tierSet),
		events: newEventBus(cfg.EventBufSize, func(ev MutationEvent) {
			log.WithField("event", ev.Kind).Warn("event bus full, dropped oldest event")
		}),
	}

	tieredSpecs := []struct {
		name   string
		tables []string
	}{
		{DBConversations, []string{TableChats, TableMessages, TableStruct}},
		{DBEmbeddings, []string{TableVectors}},
		{DBKnowledge, []string{TableEntities, TableEdges, TableGraphOut, TableGraphIn, TableStruct}},
		{DBSummaries, []string{TableSummaries}},
		{DBToolResults, []string{TableToolResults}},
		{DBExperience, []string{TableOutcomes, TablePatterns}},
	}

	c.lru = newTierLRU(cfg.OpenTierCap, c.evictTier)

	for _, spec := range tieredSpecs {
		opts := kv.Options{MaxTables: len(spec.tables) + 4, Logger: cfg.Logger}
		ts, err := newTierSet(cfg.RootPath, spec.name, opts, log)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		for _, tbl := range spec.tables {
			if _, err := ts.active.OpenDB(tbl, true); err != nil {
				_ = c.Close()
				return nil, err
			}
		}
		c.tiered[spec.name] = ts
	}

	var err error
	c.meta, err = c.openFlatEnv(DBMeta, TableRoutingCache, TablePerfStats)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.modelCache, err = c.openFlatEnv(DBModelCache, TableModelBlobs)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.logs, err = c.openFlatEnv(DBLogs, TableLogEvents)
	if err != nil {
		// Logs are lossy: failing to open them is never fatal
		// to the coordinator, only telemetry is unavailable.
		log.WithError(err).Warn("failed to open logs environment, continuing without telemetry")
		c.logs = nil
	}

	return c, nil
}

func (c *Coordinator) openFlatEnv(name string, tables ...string) (*kv.Env, error) {
	env, err := kv.Open(fmt.Sprintf("%s/%s/data.db", c.cfg.RootPath, name), kv.Options{
		MaxTables: len(tables) + 2,
		Logger:    c.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	for _, tbl := range tables {
		if _, err := env.OpenDB(tbl, true); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// Tier returns the environment backing db at tier, lazily opening and
// registering it in the open-tier LRU if needed.
func (c *Coordinator) Tier(db string, tier Tier) (*kv.Env, error) {
	ts, ok := c.tiered[db]
	if !ok {
		return nil, kv.Invalid(fmt.Sprintf("unknown tiered database %q", db))
	}
	env, opened, err := ts.Get(tier)
	if err != nil {
		return nil, err
	}
	if opened {
		// A lazily opened tier gets the same tables as the active tier.
		for _, tbl := range ts.active.Tables() {
			if _, err := env.OpenDB(tbl, true); err != nil {
				return nil, err
			}
		}
		c.lru.Touch(openTierRef{db: db, key: tier.String()})
	} else if tier.Name != "active" {
		c.lru.Touch(openTierRef{db: db, key: tier.String()})
	}
	return env, nil
}

func (c *Coordinator) evictTier(ref openTierRef) error {
	ts, ok := c.tiered[ref.db]
	if !ok {
		return nil
	}
	return ts.Evict(ref.key)
}

// TierForTime resolves which tier an entity with timestamp ts currently
// belongs in, given now.
func (c *Coordinator) TierForTime(ts, now time.Time) Tier {
	return tierForAge(ts, now, c.cfg.ActiveWindow, c.cfg.RecentWindow)
}

// Meta returns the non-tiered meta environment (routing cache + performance
// stats).
func (c *Coordinator) Meta() *kv.Env { return c.meta }

// ModelCache returns the non-tiered model-cache environment.
func (c *Coordinator) ModelCache() *kv.Env { return c.modelCache }

// Logs returns the non-tiered logs environment, or nil if it failed to open
// (logs are lossy telemetry, never fatal to the coordinator).
func (c *Coordinator) Logs() *kv.Env { return c.logs }

// Events exposes the mutation event bus for the weaver and scheduler to
// subscribe to.
func (c *Coordinator) Events() <-chan MutationEvent { return c.events.Events() }

// publish emits ev on the mutation event bus. Called by the write-side
// helpers in chat.go/message.go/knowledge.go after a SOURCE commit.
func (c *Coordinator) publish(ev MutationEvent) { c.events.Publish(ev) }

// Close closes every open environment across every database.
func (c *Coordinator) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, ts := range c.tiered {
		record(ts.closeAll())
	}
	if c.meta != nil {
		record(c.meta.Close())
	}
	if c.modelCache != nil {
		record(c.modelCache.Close())
	}
	if c.logs != nil {
		record(c.logs.Close())
	}
	c.events.Close()
	return firstErr
}
