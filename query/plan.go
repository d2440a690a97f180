package query

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mia-systems/cognitive-core/kv"
	"github.com/mia-systems/cognitive-core/storage"
)

// Plan is Stage 0's output: what the remaining stages are allowed to touch.
type Plan struct {
	TiersToOpen     []storage.Tier
	DatabasesToScan []string
	MaxDepth        int
	EstimatedCostMS int
	Downshifted     bool
}

// routingEntry is what gets cached in meta.routing_cache, keyed by a hash
// of the query's routing-relevant shape (not its literal semantic text, so
// paraphrases of the same intent still hit the cache).
type routingEntry struct {
	DatabasesToScan []string `json:"databases_to_scan"`
	MaxDepth        int      `json:"max_depth"`
	EstimatedCostMS int      `json:"estimated_cost_ms"`
}

func routingKey(q Query) string {
	h := sha1.New()
	fmt.Fprintf(h, "%d|%d|%v|%d|%d|%v", q.TimeScope, q.Context.Kind, q.UseKnowledgeGraph, q.SearchDepth.Kind, q.SearchDepth.Level, q.Temperature)
	return "route:" + hex.EncodeToString(h.Sum(nil))
}

// route consults meta.routing_cache for a similar past query and, on a
// cache hit, returns its remembered plan shape; on a miss it falls back to
// a cheap static estimate.
func route(ctx context.Context, coord *storage.Coordinator, q Query) (Plan, error) {
	key := routingKey(q)
	meta := coord.Meta()

	rtx, err := meta.BeginRead(ctx)
	if err == nil {
		defer rtx.Release()
		if raw, err := rtx.Get(storage.TableRoutingCache, key); err == nil {
			var entry routingEntry
			if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
				return Plan{
					DatabasesToScan: entry.DatabasesToScan,
					MaxDepth:        entry.MaxDepth,
					EstimatedCostMS: entry.EstimatedCostMS,
					TiersToOpen:     tiersForTemperature(q.Temperature),
				}, nil
			}
		}
	}

	return staticEstimate(q), nil
}

// staticEstimate computes a plan without any history, used on a routing
// cache miss.
func staticEstimate(q Query) Plan {
	databases := []string{storage.DBConversations, storage.DBEmbeddings}
	if q.UseKnowledgeGraph {
		databases = append(databases, storage.DBKnowledge)
	}
	databases = append(databases, storage.DBExperience)

	cost := 20 + 10*len(databases)
	if q.SearchDepth.Kind == DepthDeep {
		cost += 50
	}

	return Plan{
		TiersToOpen:     tiersForTemperature(q.Temperature),
		DatabasesToScan: databases,
		MaxDepth:        q.SearchDepth.Hops(),
		EstimatedCostMS: cost,
	}
}

// archiveWildcard stands for "any archive bucket" in a Plan's TiersToOpen —
// archive tiers are partitioned quarterly, so a plan can't name every bucket
// up front. tierAllowed treats it as matching every Tier{Name: "archive"}
// regardless of Bucket.
var archiveWildcard = storage.ArchiveTier("")

func tiersForTemperature(t Temperature) []storage.Tier {
	switch t {
	case TemperatureHot:
		return []storage.Tier{storage.TierActive}
	case TemperatureWarm:
		return []storage.Tier{storage.TierActive, storage.TierRecent}
	case TemperatureCold:
		return []storage.Tier{archiveWildcard}
	case TemperatureAll:
		return []storage.Tier{storage.TierActive, storage.TierRecent, archiveWildcard}
	default:
		return []storage.Tier{storage.TierActive}
	}
}

// tierAllowed reports whether actual falls within the set of tiers a Plan
// permits, treating archiveWildcard as matching any archive bucket.
func tierAllowed(allowed []storage.Tier, actual storage.Tier) bool {
	for _, t := range allowed {
		if t == archiveWildcard && actual.Name == "archive" {
			return true
		}
		if t == actual {
			return true
		}
	}
	return false
}

// downshift narrows Temperature or SearchDepth when a plan's estimated
// cost exceeds budgetMS, recording that it did so.
func downshift(q Query, plan Plan, budgetMS int) (Query, Plan) {
	if plan.EstimatedCostMS <= budgetMS {
		return q, plan
	}

	narrowed := q
	if narrowed.Temperature == TemperatureAll {
		narrowed.Temperature = TemperatureWarm
	} else if narrowed.Temperature != TemperatureHot {
		narrowed.Temperature = TemperatureHot
	}
	if narrowed.SearchDepth.Kind == DepthDeep {
		narrowed.SearchDepth = SearchDepth{Kind: DepthLevel, Level: 2}
	}

	newPlan := staticEstimate(narrowed)
	newPlan.Downshifted = true
	return narrowed, newPlan
}

// recordRoute caches a plan's shape for future similar queries.
func recordRoute(coord *storage.Coordinator, q Query, plan Plan) error {
	entry := routingEntry{
		DatabasesToScan: plan.DatabasesToScan,
		MaxDepth:        plan.MaxDepth,
		EstimatedCostMS: plan.EstimatedCostMS,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return coord.Meta().BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(storage.TableRoutingCache, routingKey(q), data)
	})
}
