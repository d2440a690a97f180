package storage

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mia-systems/cognitive-core/kv"
)

// RecordActionOutcome appends an ActionOutcome. This database is append-only
// critical LEARNING data: there is
// deliberately no UpdateActionOutcome, only RecordActionOutcome and later
// pattern aggregation over the full history.
func (c *Coordinator) RecordActionOutcome(a *ActionOutcome) (*ActionOutcome, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	env, err := c.Tier(DBExperience, TierActive)
	if err != nil {
		return nil, err
	}
	data, err := a.marshal()
	if err != nil {
		return nil, err
	}
	if err := env.BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(TableOutcomes, a.ID, data)
	}); err != nil {
		return nil, err
	}
	c.publish(MutationEvent{Kind: EventActionRecorded, EntityID: a.ID, Timestamp: a.Timestamp})
	return a, nil
}

// ListActionOutcomes returns every recorded outcome for actionType, oldest
// first, used by the experience aggregator to build/refresh Patterns.
func (c *Coordinator) ListActionOutcomes(ctx context.Context, actionType string) ([]*ActionOutcome, error) {
	env, err := c.Tier(DBExperience, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TableOutcomes)
	if err != nil {
		return nil, err
	}
	var out []*ActionOutcome
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		a, err := unmarshalActionOutcome(v)
		if err != nil {
			return nil, err
		}
		if actionType == "" || a.ActionType == actionType {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpsertPattern stores or refreshes an aggregated success/error pattern.
func (c *Coordinator) UpsertPattern(p *Pattern) (*Pattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	env, err := c.Tier(DBExperience, TierActive)
	if err != nil {
		return nil, err
	}
	data, err := p.marshal()
	if err != nil {
		return nil, err
	}
	if err := env.BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(TablePatterns, p.ID, data)
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPattern reads a single pattern by id.
func (c *Coordinator) GetPattern(ctx context.Context, id string) (*Pattern, error) {
	env, err := c.Tier(DBExperience, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	raw, err := rtx.Get(TablePatterns, id)
	if err != nil {
		return nil, err
	}
	return unmarshalPattern(raw)
}

// ListPatterns returns every pattern of the given kind, used by the query
// pipeline's Stage 4 (rank & reason) to fold historical success into a
// result's confidence score.
func (c *Coordinator) ListPatterns(ctx context.Context, kind PatternKind) ([]*Pattern, error) {
	env, err := c.Tier(DBExperience, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TablePatterns)
	if err != nil {
		return nil, err
	}
	var out []*Pattern
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		p, err := unmarshalPattern(v)
		if err != nil {
			return nil, err
		}
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out, nil
}

// PatternConfidence blends recency decay with a Wilson-interval lower bound
// on the success rate.
func PatternConfidence(p *Pattern, now time.Time, halfLife time.Duration) float32 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	wilson := wilsonLowerBound(float64(p.SuccessCount), float64(total), 1.96)

	decay := 1.0
	if halfLife > 0 {
		age := now.Sub(p.LastUsed)
		if age > 0 {
			decay = math.Exp2(-float64(age) / float64(halfLife))
		}
	}
	return float32(wilson * decay)
}

// wilsonLowerBound computes the lower bound of the Wilson score interval
// for successes out of total at the given z-score (1.96 ~= 95%).
func wilsonLowerBound(successes, total, z float64) float64 {
	if total == 0 {
		return 0
	}
	p := successes / total
	denom := 1 + z*z/total
	center := p + z*z/(2*total)
	margin := z * math.Sqrt(p*(1-p)/total+z*z/(4*total*total))
	return (center - margin) / denom
}
