package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config tunes a Scheduler's worker pool.
type Config struct {
	WorkersUrgent int
	WorkersNormal int
	WorkersLow    int
	WorkersBatch  int

	QueueCapacity int

	ActivityLowThreshold   time.Duration
	ActivitySleepThreshold time.Duration

	OperationLogCapacity int

	Logger *logrus.Logger

	// LifecycleSweep, when set, is run as a Batch task each time the
	// activity mode transitions into SleepMode — the hook
	// storage.Coordinator.SweepLifecycle is wired through to drive §8
	// Scenario D's tier migrations off the same idle signal that unlocks
	// Batch-priority work in the first place.
	LifecycleSweep func(ctx context.Context) error

	// LifecyclePollInterval controls how often Start's lifecycle watcher
	// checks for a SleepMode transition. Defaults to 5s.
	LifecyclePollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkersUrgent <= 0 {
		c.WorkersUrgent = 4
	}
	if c.WorkersNormal <= 0 {
		c.WorkersNormal = 2
	}
	if c.WorkersLow <= 0 {
		c.WorkersLow = 1
	}
	if c.WorkersBatch <= 0 {
		c.WorkersBatch = 1
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.OperationLogCapacity <= 0 {
		c.OperationLogCapacity = 1024
	}
	if c.LifecyclePollInterval <= 0 {
		c.LifecyclePollInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Scheduler is the prioritized, activity-aware worker pool described in
// : one buffered queue and a fixed worker count per priority
// class, gated by an ActivityTracker so SleepMode-only work never runs
// while the user is interacting.
type Scheduler struct {
	cfg      Config
	log      *logrus.Logger
	activity *ActivityTracker
	ops      *OperationLog

	queues map[Priority]chan *Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New constructs a Scheduler. Call Start to spin up its workers.
func New(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:      cfg,
		log:      cfg.Logger,
		activity: NewActivityTracker(cfg.ActivityLowThreshold, cfg.ActivitySleepThreshold),
		ops:      NewOperationLog(cfg.OperationLogCapacity),
		queues: map[Priority]chan *Task{
			PriorityUrgent: make(chan *Task, cfg.QueueCapacity),
			PriorityNormal: make(chan *Task, cfg.QueueCapacity),
			PriorityLow:    make(chan *Task, cfg.QueueCapacity),
			PriorityBatch:  make(chan *Task, cfg.QueueCapacity),
		},
	}
	return s
}

// Activity exposes the tracker so a request path (the query engine) can
// poke it via Heartbeat on every query
func (s *Scheduler) Activity() *ActivityTracker { return s.activity }

// Operations exposes the bounded operation log for diagnostics.
func (s *Scheduler) Operations() *OperationLog { return s.ops }

// Start launches the configured worker goroutines. It is not safe to call
// Start twice.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.spawn(PriorityUrgent, s.cfg.WorkersUrgent)
	s.spawn(PriorityNormal, s.cfg.WorkersNormal)
	s.spawn(PriorityLow, s.cfg.WorkersLow)
	s.spawn(PriorityBatch, s.cfg.WorkersBatch)

	if s.cfg.LifecycleSweep != nil {
		s.wg.Add(1)
		go s.lifecycleLoop()
	}
}

// lifecycleLoop watches the activity tracker and enqueues a KindReconcile
// Batch task each time the mode edges into SleepMode, so a lifecycle sweep
// runs once per sleep period rather than once per poll tick.
func (s *Scheduler) lifecycleLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.LifecyclePollInterval)
	defer ticker.Stop()

	wasAsleep := false
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			asleep := s.activity.Mode() == SleepMode
			if asleep && !wasAsleep {
				if _, err := s.Enqueue(Task{
					Kind:     KindReconcile,
					Priority: PriorityBatch,
					Run:      s.cfg.LifecycleSweep,
				}); err != nil {
					s.log.WithError(err).Warn("scheduler: failed to enqueue lifecycle sweep")
				}
			}
			wasAsleep = asleep
		}
	}
}

func (s *Scheduler) spawn(p Priority, n int) {
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.workerLoop(p)
	}
}

// workerLoop pulls tasks off one priority's queue, waiting for the current
// activity Mode to permit that priority before executing.
func (s *Scheduler) workerLoop(p Priority) {
	defer s.wg.Done()
	q := s.queues[p]
	for {
		select {
		case <-s.ctx.Done():
			return
		case t, ok := <-q:
			if !ok {
				return
			}
			s.waitForPermission(p)
			s.run(t)
		}
	}
}

// waitForPermission blocks until the scheduler's activity mode allows
// priority p to run, or the scheduler is shutting down. It polls rather
// than blocking on a condition variable so ActivityTracker.SetMode takes
// effect within one tick instead of requiring an explicit wakeup.
func (s *Scheduler) waitForPermission(p Priority) {
	const pollInterval = 50 * time.Millisecond
	if s.activity.Mode().Allows(p) {
		return
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.activity.Mode().Allows(p) {
				return
			}
		}
	}
}

func (s *Scheduler) run(t *Task) {
	started := time.Now()
	s.ops.Start(t.ID, t.Kind, t.Priority, started)

	taskCtx := s.ctx
	err := t.Run(taskCtx)
	finished := time.Now()

	switch {
	case err == nil:
		s.ops.Finish(t.ID, StatusCompleted, nil, finished)
	case taskCtx.Err() != nil:
		s.ops.Finish(t.ID, StatusCancelled, err, finished)
	default:
		s.ops.Finish(t.ID, StatusFailed, err, finished)
		s.log.WithFields(logrus.Fields{"task_id": t.ID, "kind": t.Kind, "priority": t.Priority}).
			WithError(err).Warn("scheduler: task failed")
	}
}

// Enqueue submits a task for background execution. If t carries no ID,
// one is generated. Returns an error if the task's priority queue is full.
func (s *Scheduler) Enqueue(t Task) (string, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", fmt.Errorf("scheduler: stopped")
	}
	s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.enqueuedAt = time.Now()
	s.ops.Start(t.ID, t.Kind, t.Priority, t.enqueuedAt)
	s.ops.Finish(t.ID, StatusPending, nil, t.enqueuedAt)

	q, ok := s.queues[t.Priority]
	if !ok {
		return "", fmt.Errorf("scheduler: unknown priority %v", t.Priority)
	}
	select {
	case q <- &t:
		return t.ID, nil
	default:
		return "", fmt.Errorf("scheduler: queue full for priority %s", t.Priority)
	}
}

// Stop drains Urgent and Normal queues, then cancels everything else —
// the shutdown sequence ("shutdown drains Urgent and
// Normal, then cancels the rest"). It waits up to drainTimeout for the
// Urgent and Normal queues to empty, then cancels the scheduler context and
// blocks until every worker has exited.
func (s *Scheduler) Stop(drainTimeout time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.queues[PriorityUrgent])
	close(s.queues[PriorityNormal])

	drained := make(chan struct{})
	go func() {
		s.drainWait(PriorityUrgent)
		s.drainWait(PriorityNormal)
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		s.log.Warn("scheduler: drain timeout exceeded, cancelling urgent/normal workers")
	}

	s.cancel()
	close(s.queues[PriorityLow])
	close(s.queues[PriorityBatch])
	s.wg.Wait()
}

// drainWait blocks until a priority's queue is empty. Used only during
// Stop, after the queue has been closed to new Enqueue calls.
func (s *Scheduler) drainWait(p Priority) {
	q := s.queues[p]
	for len(q) > 0 {
		time.Sleep(10 * time.Millisecond)
	}
}
