package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mia-systems/cognitive-core/kv"
)

// structChatKey is the structural-index key for a chat: "chat:<id>". It
// lets the Tier() == active/recent/archive reads below be found without
// scanning every chat in a tier.
func structChatKey(id string) string { return "chat:" + id }

// CreateChat inserts a new Chat into the active tier of conversations and
// publishes a ChatCreated event. Cross-database derived writes never happen inline with this
// commit; the scheduler and weaver
// react to the published event instead.
func (c *Coordinator) CreateChat(chat *Chat) (*Chat, error) {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now

	env, err := c.Tier(DBConversations, TierActive)
	if err != nil {
		return nil, err
	}

	data, err := chat.marshal()
	if err != nil {
		return nil, err
	}

	err = env.BeginWrite(func(tx *kv.WriteTxn) error {
		if err := tx.Put(TableChats, chat.ID, data); err != nil {
			return err
		}
		return tx.Put(TableStruct, structChatKey(chat.ID), []byte(TierActive.String()))
	})
	if err != nil {
		return nil, err
	}

	c.publish(MutationEvent{Kind: EventChatCreated, EntityID: chat.ID, ChatID: chat.ID, Timestamp: now})
	return chat, nil
}

// GetChat locates chat by id, consulting the structural index to determine
// which tier it currently lives in before reading.
func (c *Coordinator) GetChat(ctx context.Context, id string) (*Chat, error) {
	tier, err := c.locateChat(ctx, id)
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

	raw, err := rtx.Get(TableChats, id)
	if err != nil {
		return nil, err
	}
	return unmarshalChat(raw)
}

// ChatTier reports which tier currently holds chat id, letting callers
// (the query engine's Stage 1, under a temperature restriction) decide
// whether to scan a chat at all without paying for a message read.
func (c *Coordinator) ChatTier(ctx context.Context, id string) (Tier, error) {
	return c.locateChat(ctx, id)
}

// ListChatTiers returns every known chat id and the tier it currently
// occupies, read off the structural index locateChat consults. It's the
// closest thing to a "list all chats" index the schema provides — the
// scheduler's lifecycle sweep uses it to find demotion candidates without a
// dedicated chat-listing table.
func (c *Coordinator) ListChatTiers(ctx context.Context) (map[string]Tier, error) {
	env, err := c.Tier(DBConversations, TierActive)
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
	prefix := []byte("chat:")
	out := make(map[string]Tier)
	cur.ForEachPrefix(prefix, func(k, v []byte) bool {
		out[string(k[len(prefix):])] = parseTier(string(v))
		return true
	})
	return out, nil
}

// SweepLifecycle demotes every chat whose latest message has aged past the
// configured active/recent windows, moving it (and its messages, per
// invariant #5) to the tier its age now calls for. It is the scheduler's
// lifecycle task, normally enqueued on the transition into SleepMode.
func (c *Coordinator) SweepLifecycle(ctx context.Context, now time.Time) (int, error) {
	chats, err := c.ListChatTiers(ctx)
	if err != nil {
		return 0, err
	}

	var demoted int
	for id, tier := range chats {
		msgs, err := c.ListMessages(ctx, id)
		if err != nil || len(msgs) == 0 {
			continue
		}
		latest := msgs[0].Timestamp
		for _, m := range msgs[1:] {
			if m.Timestamp.After(latest) {
				latest = m.Timestamp
			}
		}

		dest := tierForAge(latest, now, c.cfg.ActiveWindow, c.cfg.RecentWindow)
		if dest == tier {
			continue
		}

		var moveErr error
		if tierRank(dest) > tierRank(tier) {
			moveErr = c.DemoteChat(ctx, id, dest)
		} else {
			moveErr = c.PromoteChat(ctx, id, dest)
		}
		if moveErr != nil {
			return demoted, moveErr
		}
		demoted++
	}
	return demoted, nil
}

// locateChat resolves which tier holds chat id by checking the structural
// index of the active tier first (where the index entries are maintained),
// falling back to a direct active-tier lookup for chats created before the
// index existed.
func (c *Coordinator) locateChat(ctx context.Context, id string) (Tier, error) {
	env, err := c.Tier(DBConversations, TierActive)
	if err != nil {
		return Tier{}, err
	}
	rtx, err := env.BeginRead(ctx)
	if err != nil {
		return Tier{}, err
	}
	defer rtx.Release()

	raw, err := rtx.Get(TableStruct, structChatKey(id))
	if err != nil {
		if kv.IsNotFound(err) {
			return TierActive, nil
		}
		return Tier{}, err
	}
	return parseTier(string(raw)), nil
}

// tierRank orders tiers from warmest to coldest, used by SweepLifecycle to
// decide whether an age-driven move is a demotion or a promotion.
func tierRank(t Tier) int {
	switch t.Name {
	case "active":
		return 0
	case "recent":
		return 1
	default:
		return 2
	}
}

func parseTier(s string) Tier {
	if len(s) > len("archive/") && s[:len("archive/")] == "archive/" {
		return ArchiveTier(s[len("archive/"):])
	}
	switch s {
	case "recent":
		return TierRecent
	default:
		return TierActive
	}
}

// DemoteChat moves chat and all of its messages from their current tier to
// dest in one atomic write per environment.
func (c *Coordinator) DemoteChat(ctx context.Context, id string, dest Tier) error {
	return c.moveChat(ctx, id, dest, EventChatDemoted)
}

// PromoteChat moves chat and its messages back toward the active tier.
func (c *Coordinator) PromoteChat(ctx context.Context, id string, dest Tier) error {
	return c.moveChat(ctx, id, dest, EventChatPromoted)
}

func (c *Coordinator) moveChat(ctx context.Context, id string, dest Tier, ev EventKind) error {
	srcTier, err := c.locateChat(ctx, id)
	if err != nil {
		return err
	}
	if srcTier == dest {
		return nil
	}

	srcEnv, err := c.Tier(DBConversations, srcTier)
	if err != nil {
		return err
	}
	destEnv, err := c.Tier(DBConversations, dest)
	if err != nil {
		return err
	}

	var chatData []byte
	var messages map[string][]byte

	rtx, err := srcEnv.BeginRead(ctx)
	if err != nil {
		return err
	}
	chatData, err = rtx.Get(TableChats, id)
	if err != nil {
		rtx.Release()
		return err
	}
	messages = make(map[string][]byte)
	cur, err := rtx.Cursor(TableMessages)
	if err != nil {
		rtx.Release()
		return err
	}
	prefix := []byte(id + ":")
	cur.ForEachPrefix(prefix, func(k, v []byte) bool {
		cp := make([]byte, len(v))
		copy(cp, v)
		messages[string(k)] = cp
		return true
	})
	rtx.Release()

	// Write into destination first, then remove from source, so a crash
	// mid-move leaves the chat readable from one place or the other, never
	// neither.
	if err := destEnv.BeginWrite(func(tx *kv.WriteTxn) error {
		if err := tx.Put(TableChats, id, chatData); err != nil {
			return err
		}
		for k, v := range messages {
			if err := tx.Put(TableMessages, k, v); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if srcTier != dest {
		if err := srcEnv.BeginWrite(func(tx *kv.WriteTxn) error {
			for k := range messages {
				if err := tx.Delete(TableMessages, k); err != nil {
					return err
				}
			}
			return tx.Delete(TableChats, id)
		}); err != nil {
			return err
		}
	}

	activeEnv, err := c.Tier(DBConversations, TierActive)
	if err != nil {
		return err
	}
	if err := activeEnv.BeginWrite(func(tx *kv.WriteTxn) error {
		return tx.Put(TableStruct, structChatKey(id), []byte(dest.String()))
	}); err != nil {
		return err
	}

	c.publish(MutationEvent{Kind: ev, EntityID: id, ChatID: id, Timestamp: time.Now().UTC()})
	return nil
}

// messageKey orders messages within a chat by insertion time so a prefix
// cursor scan over "chatID:" yields them chronologically.
func messageKey(chatID string, ts time.Time) string {
	var tsb [8]byte
	binary.BigEndian.PutUint64(tsb[:], uint64(ts.UnixNano()))
	return fmt.Sprintf("%s:%x", chatID, tsb)
}
