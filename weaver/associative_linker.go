package weaver

import (
	"context"
	"math"
	"time"

	"github.com/mia-systems/cognitive-core/storage"
)

// AssociativeLinker periodically scans recently mentioned entities and
// draws RELATED_TO edges between pairs that co-occur (share a source
// message) above a threshold within a rolling window, weighted by a
// PMI-like score.
type AssociativeLinker struct {
	coord     *storage.Coordinator
	window    time.Duration
	minCount  int
	entityTypes []string
}

// NewAssociativeLinker constructs an AssociativeLinker. entityTypes lists
// which knowledge entity types participate in the scan (EntitiesByType has
// no "all types" query, since the structural index is keyed by type).
func NewAssociativeLinker(coord *storage.Coordinator, window time.Duration, minCount int, entityTypes []string) *AssociativeLinker {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if minCount <= 0 {
		minCount = 2
	}
	return &AssociativeLinker{coord: coord, window: window, minCount: minCount, entityTypes: entityTypes}
}

// Run performs one sweep, meant to be called on a schedule (e.g. from a
// scheduler.KindLinkEntities Low-priority task) rather than continuously.
func (a *AssociativeLinker) Run(ctx context.Context, now time.Time) error {
	entities, err := a.recentEntities(ctx, now)
	if err != nil {
		return err
	}

	cooccur := make(map[[2]string]int)
	totalMentions := make(map[string]int)
	var totalPairs int

	for _, e := range entities {
		totalMentions[e.ID] = int(e.MentionCount)
	}

	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			incomingI, err := a.coord.IncomingEdges(ctx, entities[i].ID)
			if err != nil {
				return err
			}
			incomingJ, err := a.coord.IncomingEdges(ctx, entities[j].ID)
			if err != nil {
				return err
			}
			shared := sharedSourceCount(incomingI, incomingJ)
			if shared < a.minCount {
				continue
			}
			key := pairKey(entities[i].ID, entities[j].ID)
			cooccur[key] = shared
			totalPairs++
		}
	}

	for pair, count := range cooccur {
		score := pmiLike(count, totalMentions[pair[0]], totalMentions[pair[1]], totalPairs)
		if _, err := a.coord.CreateEdge(&storage.Edge{
			FromNode:     pair[0],
			ToNode:       pair[1],
			RelationType: "RELATED_TO",
			Weight:       score,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *AssociativeLinker) recentEntities(ctx context.Context, now time.Time) ([]*storage.Entity, error) {
	var out []*storage.Entity
	for _, t := range a.entityTypes {
		ents, err := a.coord.EntitiesByType(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			if now.Sub(e.FirstSeenAt) <= a.window {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// sharedSourceCount counts source message ids present in both incoming
// MENTIONS edge sets, i.e. how often the two entities appear together.
func sharedSourceCount(a, b map[string]string) int {
	sources := make(map[string]bool, len(a))
	for _, src := range a {
		sources[src] = true
	}
	count := 0
	for _, src := range b {
		if sources[src] {
			count++
		}
	}
	return count
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// pmiLike computes a pointwise-mutual-information-style co-occurrence
// score: log(joint / (marginal_a * marginal_b)), scaled so it stays a
// sensible edge weight. Marginals default to 1 to avoid division by zero
// for entities whose mention count hasn't been populated yet.
func pmiLike(joint, marginalA, marginalB, total int) float32 {
	if marginalA <= 0 {
		marginalA = 1
	}
	if marginalB <= 0 {
		marginalB = 1
	}
	if total <= 0 {
		total = 1
	}
	pJoint := float64(joint) / float64(total)
	pA := float64(marginalA) / float64(total)
	pB := float64(marginalB) / float64(total)
	if pA*pB == 0 {
		return 0
	}
	return float32(math.Log2(pJoint / (pA * pB)))
}
