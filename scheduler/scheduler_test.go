package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsUrgentTaskImmediately(t *testing.T) {
	s := New(Config{})
	s.Start(context.Background())
	defer s.Stop(time.Second)

	var ran int32
	done := make(chan struct{})
	id, err := s.Enqueue(Task{
		Kind:     KindEmbedFast,
		Priority: PriorityUrgent,
		Run: func(ctx context.Context) error {
			atomic.StoreInt32(&ran, 1)
			close(done)
			return nil
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))

	op, ok := s.Operations().Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, op.Status)
}

func TestBatchTaskWaitsForSleepMode(t *testing.T) {
	s := New(Config{})
	s.Activity().SetMode(HighActivity)
	s.Start(context.Background())
	defer s.Stop(time.Second)

	done := make(chan struct{})
	_, err := s.Enqueue(Task{
		Kind:     KindReconcile,
		Priority: PriorityBatch,
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("batch task ran while HighActivity")
	case <-time.After(150 * time.Millisecond):
	}

	s.Activity().SetMode(SleepMode)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batch task never ran after SleepMode")
	}
}

func TestFailedTaskRecordsError(t *testing.T) {
	s := New(Config{})
	s.Start(context.Background())
	defer s.Stop(time.Second)

	done := make(chan struct{})
	id, err := s.Enqueue(Task{
		Kind:     KindLinkEntities,
		Priority: PriorityNormal,
		Run: func(ctx context.Context) error {
			defer close(done)
			return errors.New("boom")
		},
	})
	require.NoError(t, err)

	<-done
	// Give the worker loop a moment to record the result after Run returns.
	time.Sleep(20 * time.Millisecond)

	op, ok := s.Operations().Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, op.Status)
	assert.Error(t, op.Err)
}

func TestActivityTrackerDegradesOverThresholds(t *testing.T) {
	at := NewActivityTracker(30*time.Second, 600*time.Second)
	base := time.Now()
	at.now = func() time.Time { return base }
	at.Heartbeat()

	at.now = func() time.Time { return base.Add(10 * time.Second) }
	assert.Equal(t, HighActivity, at.Mode())

	at.now = func() time.Time { return base.Add(60 * time.Second) }
	assert.Equal(t, LowActivity, at.Mode())

	at.now = func() time.Time { return base.Add(700 * time.Second) }
	assert.Equal(t, SleepMode, at.Mode())
}

func TestOperationLogEvictsOldestBeyondCapacity(t *testing.T) {
	log := NewOperationLog(2)
	now := time.Now()
	log.Start("a", KindEmbedFast, PriorityUrgent, now)
	log.Start("b", KindEmbedFast, PriorityUrgent, now)
	log.Start("c", KindEmbedFast, PriorityUrgent, now)

	_, ok := log.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = log.Get("c")
	assert.True(t, ok)
	assert.Len(t, log.List(), 2)
}

func TestRedisMirrorRecordsDepthAndOperation(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mirror := NewRedisMirror(client, "test")
	ctx := context.Background()

	require.NoError(t, mirror.RecordDepth(ctx, PriorityNormal, 7))
	depth, err := mirror.Depth(ctx, PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 7, depth)

	op := Operation{ID: "op-1", Kind: KindSummarize, Priority: PriorityLow, Status: StatusCompleted}
	require.NoError(t, mirror.RecordOperation(ctx, op, time.Minute))
}
