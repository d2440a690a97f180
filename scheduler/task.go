// Package scheduler implements the priority-queue, activity-aware
// background processor: a bounded worker pool per priority
// class, cooperative cancellation, and a bounded log of recent operations
// for diagnostics.
package scheduler

import (
	"context"
	"time"
)

// Priority orders background work. Each priority has its own queue and
// workers; an Urgent task does not interrupt a running Normal task. Batch
// only runs in SleepMode.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityNormal
	PriorityLow
	PriorityBatch
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// Kind enumerates the background task kinds the scheduler dispatches.
type Kind string

const (
	KindEmbedFast       Kind = "embed_fast"
	KindEmbedAccurate   Kind = "embed_accurate"
	KindExtractEntities Kind = "extract_entities"
	KindLinkEntities    Kind = "link_entities"
	KindSummarize       Kind = "summarize"
	KindPromoteEntity   Kind = "promote_entity"
	KindDemoteChat      Kind = "demote_chat"
	KindRebuildIndex    Kind = "rebuild_index"
	KindReconcile       Kind = "reconcile"
)

// Task is one unit of background work. Run receives the scheduler's
// context, which is cancelled when the scheduler shuts down; a Task has no
// cancellation token of its own.
type Task struct {
	ID       string
	Kind     Kind
	Priority Priority
	EntityID string
	Run      func(ctx context.Context) error

	enqueuedAt time.Time
}

// Result describes a finished or cancelled Task. The scheduler itself
// records task outcomes as Operations in its OperationLog, not as Results.
type Result struct {
	TaskID    string
	Kind      Kind
	Err       error
	Cancelled bool
	Started   time.Time
	Finished  time.Time
}
