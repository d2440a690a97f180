package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mia-systems/cognitive-core/kv"
)

func structEntityKey(entityType, id string) string { return "entity:" + entityType + ":" + id }

// UpsertEntity inserts or updates an Entity in knowledge.active and
// maintains its structural index entry (type -> id) in the same write
// transaction invariant requiring index and source to never
// diverge. Called by the weaver's Entity Linker on MessageInserted.
func (c *Coordinator) UpsertEntity(e *Entity) (*Entity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.FirstSeenAt.IsZero() {
		e.FirstSeenAt = time.Now().UTC()
	}

	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return nil, err
	}
	data, err := e.marshal()
	if err != nil {
		return nil, err
	}

	err = env.BeginWrite(func(tx *kv.WriteTxn) error {
		if err := tx.Put(TableEntities, e.ID, data); err != nil {
			return err
		}
		return tx.Put(TableStruct, structEntityKey(e.Type, e.ID), []byte{1})
	})
	if err != nil {
		return nil, err
	}
	c.publish(MutationEvent{Kind: EventEntityUpserted, EntityID: e.ID, Timestamp: time.Now().UTC()})
	return e, nil
}

// GetEntity reads a single entity from knowledge.active by id.
func (c *Coordinator) GetEntity(ctx context.Context, id string) (*Entity, error) {
	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	raw, err := rtx.Get(TableEntities, id)
	if err != nil {
		return nil, err
	}
	return unmarshalEntity(raw)
}

// EntitiesByType returns every entity of the given type, using the
// structural index instead of scanning the whole entities table.
func (c *Coordinator) EntitiesByType(ctx context.Context, entityType string) ([]*Entity, error) {
	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TableStruct)
	if err != nil {
		return nil, err
	}
	prefix := []byte("entity:" + entityType + ":")
	var ids []string
	cur.ForEachPrefix(prefix, func(k, _ []byte) bool {
		ids = append(ids, string(k[len(prefix):]))
		return true
	})

	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		raw, err := rtx.Get(TableEntities, id)
		if err != nil {
			if kv.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		e, err := unmarshalEntity(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// CreateEdge inserts a directed, weighted relation between two entities and
// updates both the outgoing adjacency of FromNode and the incoming
// adjacency of ToNode in the same write transaction, so graph_outgoing(a)
// and graph_incoming(b) always agree on the edge id.
func (c *Coordinator) CreateEdge(e *Edge) (*Edge, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return nil, err
	}
	data, err := e.marshal()
	if err != nil {
		return nil, err
	}

	err = env.BeginWrite(func(tx *kv.WriteTxn) error {
		if err := tx.Put(TableEdges, e.ID, data); err != nil {
			return err
		}
		if err := tx.Put(TableGraphOut, e.FromNode+":"+e.ID, []byte(e.ToNode)); err != nil {
			return err
		}
		return tx.Put(TableGraphIn, e.ToNode+":"+e.ID, []byte(e.FromNode))
	})
	if err != nil {
		return nil, err
	}
	c.publish(MutationEvent{Kind: EventEdgeCreated, EntityID: e.ID, Timestamp: e.CreatedAt})
	return e, nil
}

// DeleteEdge removes an edge and both of its adjacency-table entries,
// keeping the invariant that deleting an edge removes it from both
// directions atomically.
func (c *Coordinator) DeleteEdge(id, fromNode, toNode string) error {
	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return err
	}
	return env.BeginWrite(func(tx *kv.WriteTxn) error {
		if err := tx.Delete(TableEdges, id); err != nil {
			return err
		}
		if err := tx.Delete(TableGraphOut, fromNode+":"+id); err != nil {
			return err
		}
		return tx.Delete(TableGraphIn, toNode+":"+id)
	})
}

// ReconcileMentionCounts recomputes each entity's MentionCount from the
// incoming MENTIONS edges actually recorded in TableGraphIn, correcting any
// entity whose stored count has drifted. Entity.MentionCount is maintained
// incrementally by the Entity Linker as mentions arrive (invariant #3), so
// it is only ever eventually consistent with the graph; this batch task is
// what brings it back in line, the way invariant #3 requires.
func (c *Coordinator) ReconcileMentionCounts(ctx context.Context) (int, error) {
	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return 0, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return 0, err
	}

	counts := make(map[string]uint64)
	cur, err := rtx.Cursor(TableEdges)
	if err != nil {
		rtx.Release()
		return 0, err
	}
	var edges []*Edge
	cur.ForEachPrefix(nil, func(_, v []byte) bool {
		e, err := unmarshalEdge(v)
		if err != nil {
			return true
		}
		edges = append(edges, e)
		return true
	})
	for _, e := range edges {
		if e.RelationType == "MENTIONS" {
			counts[e.ToNode]++
		}
	}

	entCur, err := rtx.Cursor(TableEntities)
	if err != nil {
		rtx.Release()
		return 0, err
	}
	var entities []*Entity
	entCur.ForEachPrefix(nil, func(_, v []byte) bool {
		e, err := unmarshalEntity(v)
		if err != nil {
			return true
		}
		entities = append(entities, e)
		return true
	})
	rtx.Release()

	var corrected int
	for _, e := range entities {
		want := counts[e.ID]
		if e.MentionCount == want {
			continue
		}
		e.MentionCount = want
		if _, err := c.UpsertEntity(e); err != nil {
			return corrected, err
		}
		corrected++
	}
	return corrected, nil
}

// OutgoingEdges returns the ids of entities nodeID points to, one graph hop
// away, by scanning the outgoing adjacency table.
func (c *Coordinator) OutgoingEdges(ctx context.Context, nodeID string) (map[string]string, error) {
	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TableGraphOut)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	prefix := []byte(nodeID + ":")
	cur.ForEachPrefix(prefix, func(k, v []byte) bool {
		edgeID := string(k[len(prefix):])
		out[edgeID] = string(v)
		return true
	})
	return out, nil
}

// IncomingEdges returns the edge-id -> source-node map for edges pointing
// at nodeID.
func (c *Coordinator) IncomingEdges(ctx context.Context, nodeID string) (map[string]string, error) {
	env, err := c.Tier(DBKnowledge, TierActive)
	if err != nil {
		return nil, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TableGraphIn)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	prefix := []byte(nodeID + ":")
	cur.ForEachPrefix(prefix, func(k, v []byte) bool {
		edgeID := string(k[len(prefix):])
		out[edgeID] = string(v)
		return true
	})
	return out, nil
}
