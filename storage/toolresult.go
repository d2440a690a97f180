package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mia-systems/cognitive-core/kv"
)

// PutToolResult caches an external tool/search/scrape response. Callers set TTL to zero for
// a result that never expires on its own.
func (c *Coordinator) PutToolResult(r *ToolResult) (*ToolResult, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now().UTC()
	}
	env, err := c.Tier(DBToolResults, TierActive)
	if err != nil {
		return nil, err
	}
	data, err := r.marshal()
	if err != nil {
		return nil, err
	}
	if err := env.BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(TableToolResults, r.ID, data)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// GetToolResult looks up a cached result by id. Callers should check
// IsStale themselves; a stale-but-present entry is still returned so the
// caller can decide whether to serve it while a refresh is in flight.
func (c *Coordinator) GetToolResult(ctx context.Context, id string) (*ToolResult, error) {
	env, err := c.Tier(DBToolResults, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	raw, err := rtx.Get(TableToolResults, id)
	if err != nil {
		return nil, err
	}
	return unmarshalToolResult(raw)
}

// DeleteToolResult evicts a cache entry.
func (c *Coordinator) DeleteToolResult(id string) error {
	env, err := c.Tier(DBToolResults, TierActive)
	if err != nil {
		return err
	}
	return env.BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Delete(TableToolResults, id)
	})
}

// SweepExpiredToolResults scans the active tier for stale entries and
// deletes them, returning the number removed. Intended to be driven by a
// Batch-priority scheduler task.
func (c *Coordinator) SweepExpiredToolResults(ctx context.Context, now time.Time) (int, error) {
	env, err := c.Tier(DBToolResults, TierActive)
	if err != nil {
		return 0, err
	}

	var stale []string
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return 0, err
	}
	cur, err := rtx.Cursor(TableToolResults)
	if err != nil {
		rtx.Release()
		return 0, err
	}
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		r, err := unmarshalToolResult(v)
		if err != nil {
			continue
		}
		if r.IsStale(now) {
			stale = append(stale, string(k))
		}
	}
	rtx.Release()

	if len(stale) == 0 {
		return 0, nil
	}
	err = env.BeginWrite(func(tx *kv.WriteTxn) error {
		for _, id := range stale {
			if err := tx.Delete(TableToolResults, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
