package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/mia-systems/cognitive-core/kv"
)

// PutSummary stores a hierarchical summary produced by the weaver's
// Summarizer module. Callers must first confirm every
// CoveredMessageIDs entry has a committed fast embedding (see
// Coordinator.HasEmbedding / the weaver's DAG dependency check).
func (c *Coordinator) PutSummary(s *Summary) (*Summary, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	env, err := c.Tier(DBSummaries, TierActive)
	if err != nil {
		return nil, err
	}
	data, err := s.marshal()
	if err != nil {
		return nil, err
	}
	if err := env.BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(TableSummaries, s.ID, data)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSummary reads a single summary by id.
func (c *Coordinator) GetSummary(ctx context.Context, id string) (*Summary, error) {
	env, err := c.Tier(DBSummaries, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	raw, err := rtx.Get(TableSummaries, id)
	if err != nil {
		return nil, err
	}
	return unmarshalSummary(raw)
}

// SummariesByScope lists every summary of the given scope (session, daily,
// weekly, monthly), scanning the active tier.
func (c *Coordinator) SummariesByScope(ctx context.Context, scope SummaryScope) ([]*Summary, error) {
	env, err := c.Tier(DBSummaries, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TableSummaries)
	if err != nil {
		return nil, err
	}
	var out []*Summary
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		s, err := unmarshalSummary(v)
		if err != nil {
			return nil, err
		}
		if s.Scope == scope {
			out = append(out, s)
		}
	}
	return out, nil
}
