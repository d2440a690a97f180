package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/mia-systems/cognitive-core/kv"
)

func embeddingKey(sourceID string, res Resolution) string { return sourceID + ":" + string(res) }

// PutEmbedding stores a vector for sourceID at the given resolution,
// overwriting any previous vector at that (sourceID, resolution) pair —
// a source has at most one fast and one accurate vector at a time.
// Callers above (the embedding pipeline) are responsible for
// also inserting the vector into the HNSW index; the two writes share no
// transaction because the HNSW index lives in the indexing package's own
// in-memory structure, not in this KV table.
func (c *Coordinator) PutEmbedding(v *Embedding) (*Embedding, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	env, err := c.Tier(DBEmbeddings, TierActive)
	if err != nil {
		return nil, err
	}
	data, err := v.marshal()
	if err != nil {
		return nil, err
	}
	key := embeddingKey(v.SourceID, v.Resolution)
	if err := env.BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(TableVectors, key, data)
	}); err != nil {
		return nil, err
	}
	return v, nil
}

// GetEmbedding reads back the vector for (sourceID, resolution), if any.
func (c *Coordinator) GetEmbedding(ctx context.Context, sourceID string, res Resolution) (*Embedding, error) {
	env, err := c.Tier(DBEmbeddings, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	raw, err := rtx.Get(TableVectors, embeddingKey(sourceID, res))
	if err != nil {
		return nil, err
	}
	return unmarshalEmbedding(raw)
}

// ListEmbeddings returns every committed vector at the given resolution in
// the active tier, used by indexing.RebuildHNSW to reconstruct the vector
// index from its source of truth after a crash or on first open.
func (c *Coordinator) ListEmbeddings(ctx context.Context, res Resolution) ([]*Embedding, error) {
	env, err := c.Tier(DBEmbeddings, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TableVectors)
	if err != nil {
		return nil, err
	}
	var out []*Embedding
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		e, err := unmarshalEmbedding(v)
		if err != nil {
			return nil, err
		}
		if e.Resolution == res {
			out = append(out, e)
		}
	}
	return out, nil
}

// HasEmbedding reports whether sourceID already has a committed vector at
// res, used by the weaver to avoid re-embedding and by the summarizer's DAG
// dependency check (every covered message needs a committed embedding
// before a Summary can be generated).
func (c *Coordinator) HasEmbedding(ctx context.Context, sourceID string, res Resolution) (bool, error) {
	_, err := c.GetEmbedding(ctx, sourceID, res)
	if err == nil {
		return true, nil
	}
	if kv.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
