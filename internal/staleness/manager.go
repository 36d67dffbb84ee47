package staleness

import (
	"sync"
	"time"
)

// Manager maintains the last-modified-stage marker for one workflow instance.
// A stage is stale iff its ID is at or beyond the marker and it lacks a
// completed run newer than the configuration change. Regenerating a stage
// therefore clears its own flag and only its own flag.
type Manager struct {
	mu           sync.Mutex
	lastModified int
	changedAt    time.Time
}

// NewManager constructs a manager, restoring a persisted marker.
// lastModified of 0 means no change is pending.
func NewManager(lastModified int, changedAt *time.Time) *Manager {
	m := &Manager{lastModified: lastModified}
	if changedAt != nil {
		m.changedAt = *changedAt
	}
	return m
}

// MarkConfigChanged records that a stage's input configuration changed after
// the stage last completed. The marker only ever moves toward the lowest
// affected stage; the change timestamp advances so stale checks compare
// against the most recent edit.
func (m *Manager) MarkConfigChanged(stageID int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastModified == 0 || stageID < m.lastModified {
		m.lastModified = stageID
	}
	if at.After(m.changedAt) {
		m.changedAt = at
	}
}

// IsStale reports whether a stage needs recalculation given the completion
// time of its latest completed run (nil when it never completed). Stages
// before the marker are never stale; a stage at or beyond it is cleared only
// by a completed run newer than the change.
func (m *Manager) IsStale(stageID int, latestCompleted *time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastModified == 0 || stageID < m.lastModified {
		return false
	}
	if latestCompleted == nil {
		// A never-completed stage has nothing to invalidate.
		return false
	}
	return !latestCompleted.After(m.changedAt)
}

// Snapshot returns the marker and its timestamp for persistence.
func (m *Manager) Snapshot() (int, *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastModified == 0 {
		return 0, nil
	}
	at := m.changedAt
	return m.lastModified, &at
}

// Reset clears the marker entirely. Called when every stage at or beyond the
// marker holds a run newer than the change.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastModified = 0
	m.changedAt = time.Time{}
}
