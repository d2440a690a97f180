package scheduler

import (
	"sync"
	"time"
)

// Mode is the scheduler's current activity level.
type Mode int

const (
	// HighActivity: the user is actively interacting; only Urgent tasks run.
	HighActivity Mode = iota
	// LowActivity: idle past activity_low_threshold_s; Urgent + Normal run.
	LowActivity
	// SleepMode: idle past activity_sleep_threshold_s; every priority runs,
	// including lifecycle transitions and consolidation.
	SleepMode
)

func (m Mode) String() string {
	switch m {
	case HighActivity:
		return "high_activity"
	case LowActivity:
		return "low_activity"
	case SleepMode:
		return "sleep_mode"
	default:
		return "unknown"
	}
}

// Allows reports whether a task at the given priority may run while in
// mode m.
func (m Mode) Allows(p Priority) bool {
	switch m {
	case HighActivity:
		return p == PriorityUrgent
	case LowActivity:
		return p == PriorityUrgent || p == PriorityNormal
	case SleepMode:
		return true
	default:
		return false
	}
}

// ActivityTracker derives the scheduler's Mode from a heartbeat signal: the
// query engine pokes it on every request, and the tracker degrades to
// LowActivity then SleepMode as the idle gap grows past the two configured
// thresholds.
type ActivityTracker struct {
	mu            sync.Mutex
	lastHeartbeat time.Time
	lowThreshold  time.Duration
	sleepThreshold time.Duration
	forced        *Mode
	now           func() time.Time
}

// NewActivityTracker builds a tracker with the given thresholds. A zero
// lowThreshold/sleepThreshold falls back to the default thresholds (30s / 600s).
func NewActivityTracker(lowThreshold, sleepThreshold time.Duration) *ActivityTracker {
	if lowThreshold <= 0 {
		lowThreshold = 30 * time.Second
	}
	if sleepThreshold <= 0 {
		sleepThreshold = 600 * time.Second
	}
	return &ActivityTracker{
		lastHeartbeat:  time.Now(),
		lowThreshold:   lowThreshold,
		sleepThreshold: sleepThreshold,
		now:            time.Now,
	}
}

// Heartbeat records activity, resetting the idle clock to HighActivity.
func (a *ActivityTracker) Heartbeat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastHeartbeat = a.now()
}

// SetMode pins the tracker to an explicit mode, overriding heartbeat-derived
// computation until cleared with ClearOverride. This backs the
// Scheduler::set_activity(mode) API surface for callers (tests,
// explicit "go to sleep" commands) that need deterministic control.
func (a *ActivityTracker) SetMode(m Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mode := m
	a.forced = &mode
}

// ClearOverride returns the tracker to heartbeat-derived mode computation.
func (a *ActivityTracker) ClearOverride() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forced = nil
}

// Mode returns the current activity mode.
func (a *ActivityTracker) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.forced != nil {
		return *a.forced
	}
	idle := a.now().Sub(a.lastHeartbeat)
	switch {
	case idle >= a.sleepThreshold:
		return SleepMode
	case idle >= a.lowThreshold:
		return LowActivity
	default:
		return HighActivity
	}
}
