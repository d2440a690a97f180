package weaver

import (
	"context"

	"github.com/mia-systems/cognitive-core/embedding"
	"github.com/mia-systems/cognitive-core/storage"
)

// EntityLinker reacts to MessageInserted by extracting entities via
// MlBridge and upserting them into knowledge, creating a MENTIONS edge
// from the source message to each entity it mentions.
type EntityLinker struct {
	coord  *storage.Coordinator
	bridge embedding.MlBridge
}

// NewEntityLinker constructs an EntityLinker and registers its handler on
// w for EventMessageInserted.
func NewEntityLinker(w *Weaver, coord *storage.Coordinator, bridge embedding.MlBridge) *EntityLinker {
	el := &EntityLinker{coord: coord, bridge: bridge}
	w.On(storage.EventMessageInserted, el.handle)
	return el
}

func (el *EntityLinker) handle(ctx context.Context, ev storage.MutationEvent) error {
	msg, err := el.coord.GetMessage(ctx, ev.ChatID, ev.EntityID)
	if err != nil {
		return err
	}

	extracted, err := el.bridge.ExtractEntities(ctx, msg.Text)
	if err != nil {
		return err
	}

	for _, ex := range extracted {
		entity, err := el.findExisting(ctx, ex.Type, ex.Label)
		if err != nil {
			return err
		}
		if entity == nil {
			entity = &storage.Entity{Label: ex.Label, Type: ex.Type, Confidence: ex.Confidence, MentionCount: 1}
		} else {
			entity.MentionCount++
			if ex.Confidence > entity.Confidence {
				entity.Confidence = ex.Confidence
			}
		}
		entity, err = el.coord.UpsertEntity(entity)
		if err != nil {
			return err
		}
		if _, err := el.coord.CreateEdge(&storage.Edge{
			FromNode:        msg.ID,
			ToNode:          entity.ID,
			RelationType:    "MENTIONS",
			Weight:          ex.Confidence,
			SourceMessageID: msg.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// findExisting looks up an entity already known by (type, label), since
// extract_entities has no stable id across calls. A miss returns a nil
// entity, not an error.
func (el *EntityLinker) findExisting(ctx context.Context, entityType, label string) (*storage.Entity, error) {
	candidates, err := el.coord.EntitiesByType(ctx, entityType)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.Label == label {
			return c, nil
		}
	}
	return nil, nil
}

