package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := Open(Config{RootPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateChatAndInsertMessage(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := c.CreateChat(&Chat{Title: "test chat"})
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)

	msg, err := c.InsertMessage(ctx, &Message{ChatID: chat.ID, Role: RoleUser, Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	got, err := c.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "test chat", got.Title)

	msgs, err := c.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestDemoteAndPromoteChatMovesMessagesTogether(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	chat, err := c.CreateChat(&Chat{Title: "old chat"})
	require.NoError(t, err)
	_, err = c.InsertMessage(ctx, &Message{ChatID: chat.ID, Role: RoleUser, Text: "m1"})
	require.NoError(t, err)
	_, err = c.InsertMessage(ctx, &Message{ChatID: chat.ID, Role: RoleAssistant, Text: "m2"})
	require.NoError(t, err)

	require.NoError(t, c.DemoteChat(ctx, chat.ID, ArchiveTier("2024-Q4")))

	msgs, err := c.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	require.NoError(t, c.PromoteChat(ctx, chat.ID, TierActive))
	got, err := c.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)
}

func TestEdgeInvariantBothDirectionsIndexed(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	a, err := c.UpsertEntity(&Entity{Label: "Go", Type: "CONCEPT"})
	require.NoError(t, err)
	b, err := c.UpsertEntity(&Entity{Label: "bbolt", Type: "CONCEPT"})
	require.NoError(t, err)

	edge, err := c.CreateEdge(&Edge{FromNode: a.ID, ToNode: b.ID, RelationType: "RELATED_TO", Weight: 0.8})
	require.NoError(t, err)

	out, err := c.OutgoingEdges(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, out[edge.ID])

	in, err := c.IncomingEdges(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, in[edge.ID])

	require.NoError(t, c.DeleteEdge(edge.ID, a.ID, b.ID))

	out, err = c.OutgoingEdges(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, out)
	in, err = c.IncomingEdges(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, in)
}

func TestEmbeddingAtMostOnePerResolution(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.PutEmbedding(&Embedding{SourceID: "m1", Resolution: ResolutionFast384, Vector: []float32{0.1, 0.2}})
	require.NoError(t, err)
	_, err = c.PutEmbedding(&Embedding{SourceID: "m1", Resolution: ResolutionFast384, Vector: []float32{0.3, 0.4}})
	require.NoError(t, err)

	v, err := c.GetEmbedding(ctx, "m1", ResolutionFast384)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.3, 0.4}, v.Vector)

	has, err := c.HasEmbedding(ctx, "m1", ResolutionAccurate1536)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestToolResultStalenessSweep(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := c.PutToolResult(&ToolResult{ToolName: "search", Query: "go bbolt", FetchedAt: now.Add(-2 * time.Hour), TTL: time.Hour})
	require.NoError(t, err)
	fresh, err := c.PutToolResult(&ToolResult{ToolName: "search", Query: "fresh", FetchedAt: now, TTL: time.Hour})
	require.NoError(t, err)

	removed, err := c.SweepExpiredToolResults(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = c.GetToolResult(ctx, fresh.ID)
	require.NoError(t, err)
}

func TestActionOutcomeIsAppendOnlyAndFeedsPatterns(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.RecordActionOutcome(&ActionOutcome{ActionType: "search_web", Feedback: FeedbackApproval})
	require.NoError(t, err)
	_, err = c.RecordActionOutcome(&ActionOutcome{ActionType: "search_web", Feedback: FeedbackRejection})
	require.NoError(t, err)

	outcomes, err := c.ListActionOutcomes(ctx, "search_web")
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)

	p, err := c.UpsertPattern(&Pattern{Kind: PatternSuccess, SuccessCount: 8, FailureCount: 2, LastUsed: time.Now().UTC()})
	require.NoError(t, err)

	conf := PatternConfidence(p, time.Now().UTC(), 0)
	assert.Greater(t, conf, float32(0))
	assert.Less(t, conf, float32(1))
}

func TestTierForAgeBoundaries(t *testing.T) {
	now := time.Now().UTC()
	active := 30 * 24 * time.Hour
	recent := 90 * 24 * time.Hour

	assert.Equal(t, TierActive, tierForAge(now.Add(-time.Hour), now, active, recent))
	assert.Equal(t, TierRecent, tierForAge(now.Add(-45*24*time.Hour), now, active, recent))
	assert.Equal(t, "archive", tierForAge(now.Add(-120*24*time.Hour), now, active, recent).Name)
}
