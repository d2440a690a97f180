package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mia-systems/cognitive-core/kv"
)

// InsertMessage appends m to its chat's message list and publishes a
// MessageInserted event, which the weaver and scheduler use to trigger
// embedding and entity extraction asynchronously. A Message always lands in
// the same tier as its Chat.
func (c *Coordinator) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	tier, err := c.locateChat(ctx, m.ChatID)
	if err != nil {
		return nil, err
	}
	if tier != TierActive {
		// New activity on a demoted chat promotes it back to active before
		// the message lands, keeping invariant #5 (a chat and all its
		// messages share one tier) intact for the message about to be
		// written.
		if err := c.PromoteChat(ctx, m.ChatID, TierActive); err != nil {
			return nil, err
		}
		tier = TierActive
	}
	env, err := c.Tier(DBConversations, tier)
	if err != nil {
		return nil, err
	}

	data, err := m.marshal()
	if err != nil {
		return nil, err
	}
	key := messageKey(m.ChatID, m.Timestamp)

	if err := env.BeginWrite(func(tx *kv.WriteTxn) error {
		if err := tx.Put(TableMessages, key, data); err != nil {
			return err
		}
		return tx.Put(TableStruct, structMessageKey(m.ID), []byte(m.ChatID))
	}); err != nil {
		return nil, err
	}

	c.publish(MutationEvent{Kind: EventMessageInserted, EntityID: m.ID, ChatID: m.ChatID, Timestamp: m.Timestamp})
	return m, nil
}

// structMessageKey is the structural-index key mapping a message id back to
// its owning chat id, mirroring structChatKey's always-active-tier
// placement. It exists so callers that only have a message id (the
// knowledge graph's MENTIONS edges reference messages, not chats) can
// resolve which chat to scan, without a full-table scan.
func structMessageKey(id string) string { return "msg:" + id }

// ChatIDForMessage resolves a message id to its owning chat id via the
// structural index, used by the query engine's ByTopic context resolution
// (knowledge-graph edges carry message ids, not chat ids).
func (c *Coordinator) ChatIDForMessage(ctx context.Context, messageID string) (string, error) {
	env, err := c.Tier(DBConversations, TierActive)
	if err != nil {
		return "", err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return "", err
	}
	defer rtx.Release()

	raw, err := rtx.Get(TableStruct, structMessageKey(messageID))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ListMessages returns every message belonging to chatID, in chronological
// order, reading from whichever tier currently holds the chat.
func (c *Coordinator) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	tier, err := c.locateChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	env, err := c.Tier(DBConversations, tier)
	if err != nil {
		return nil, err
	}

	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	defer rtx.Release()

	cur, err := rtx.Cursor(TableMessages)
	if err != nil {
		return nil, err
	}

	var out []*Message
	var unmarshalErr error
	cur.ForEachPrefix([]byte(chatID+":"), func(_, v []byte) bool {
		m, err := unmarshalMessage(v)
		if err != nil {
			unmarshalErr = err
			return false
		}
		out = append(out, m)
		return true
	})
	if unmarshalErr != nil {
		return nil, unmarshalErr
	}
	return out, nil
}

// GetMessage finds one message by id within its chat. It scans the chat's
// message list rather than maintaining a secondary id index, since lookups
// by id are rare outside the weaver's own event handlers, which already
// know the chat id from the MutationEvent.
func (c *Coordinator) GetMessage(ctx context.Context, chatID, messageID string) (*Message, error) {
	msgs, err := c.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, kv.NotFound("message " + messageID + " not found in chat " + chatID)
}

// MessagesInTimeRange filters ListMessages by [from, to), implementing the
// structural-filter stage of the query pipeline's time_scope handling.
func MessagesInTimeRange(msgs []*Message, from, to time.Time) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Timestamp.Before(from) && m.Timestamp.Before(to) {
			out = append(out, m)
		}
	}
	return out
}
