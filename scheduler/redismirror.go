package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror optionally mirrors queue depth and operation status into
// Redis so an external dashboard or a second process can observe scheduler
// health without reaching into process memory. It is strictly a mirror:
// the in-process Scheduler remains the source of truth for dispatch, and a
// Redis outage never blocks task execution.
type RedisMirror struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisMirror wraps an existing go-redis client. Pass a keyPrefix to
// namespace keys when multiple cores share one Redis instance.
func NewRedisMirror(client *redis.Client, keyPrefix string) *RedisMirror {
	if keyPrefix == "" {
		keyPrefix = "miacore:scheduler"
	}
	return &RedisMirror{client: client, keyPrefix: keyPrefix}
}

func (m *RedisMirror) depthKey(p Priority) string {
	return fmt.Sprintf("%s:depth:%s", m.keyPrefix, p)
}

func (m *RedisMirror) opKey(id string) string {
	return fmt.Sprintf("%s:op:%s", m.keyPrefix, id)
}

// RecordDepth publishes the current queue depth for a priority class.
func (m *RedisMirror) RecordDepth(ctx context.Context, p Priority, depth int) error {
	return m.client.Set(ctx, m.depthKey(p), depth, 0).Err()
}

// Depth reads back a previously recorded queue depth. Returns 0 if unset.
func (m *RedisMirror) Depth(ctx context.Context, p Priority) (int, error) {
	v, err := m.client.Get(ctx, m.depthKey(p)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// RecordOperation mirrors an operation's terminal status with a
// time-to-live so the mirror self-cleans without a sweep task.
func (m *RedisMirror) RecordOperation(ctx context.Context, op Operation, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	key := m.opKey(op.ID)
	if err := m.client.HSet(ctx, key, map[string]any{
		"kind":     string(op.Kind),
		"priority": op.Priority.String(),
		"status":   op.Status.String(),
	}).Err(); err != nil {
		return err
	}
	return m.client.Expire(ctx, key, ttl).Err()
}

// Expire sets (or refreshes) the TTL on a mirrored operation's hash key.
func (m *RedisMirror) Expire(ctx context.Context, opID string, ttl time.Duration) error {
	return m.client.Expire(ctx, m.opKey(opID), ttl).Err()
}

// Close releases the underlying Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

// MirrorLoop periodically writes each priority queue's depth into Redis
// until ctx is cancelled. Intended to run as its own goroutine
// alongside Scheduler.Start.
func MirrorLoop(ctx context.Context, sched *Scheduler, mirror *RedisMirror, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range []Priority{PriorityUrgent, PriorityNormal, PriorityLow, PriorityBatch} {
				depth := len(sched.queues[p])
				if err := mirror.RecordDepth(ctx, p, depth); err != nil {
					sched.log.WithError(err).Warn("scheduler: redis mirror depth write failed")
				}
			}
		}
	}
}
