// Package retry tracks consecutive execution failures per worker.
//
// A worker's counter grows by one on each failure until it reaches the
// configured maximum, after which further failures are reported as
// exhausted and the counter stays put. A success resets the counter to zero.
// Counters are session-scoped: create one Manager per session.
package retry

import (
	"sync"
)

// WorkerState tracks failure bookkeeping for one worker.
type WorkerState struct {
	WorkerID       string `json:"worker_id"`
	Failures       int    `json:"failures"` // consecutive, capped at MaxRetries
	MaxRetries     int    `json:"max_retries"`
	TotalFailures  int    `json:"total_failures"`
	TotalSuccesses int    `json:"total_successes"`
	LastError      string `json:"last_error,omitempty"`
}

// Outcome describes how a failure was accounted for.
type Outcome struct {
	// Retry is true when the failure was counted against the worker's budget.
	Retry bool
	// Attempt is the consecutive failure count after accounting.
	Attempt int
	// MaxRetries echoes the configured bound for progress messages.
	MaxRetries int
}

// Manager manages retry state for the workers of one session.
// It is safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	maxRetries int
	states     map[string]*WorkerState
}

// NewManager creates a retry manager allowing maxRetries consecutive
// counted failures per worker. Negative values are treated as zero.
func NewManager(maxRetries int) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		maxRetries: maxRetries,
		states:     make(map[string]*WorkerState),
	}
}

// MaxRetries returns the configured bound.
func (m *Manager) MaxRetries() int {
	return m.maxRetries
}

func (m *Manager) state(workerID string) *WorkerState {
	s, ok := m.states[workerID]
	if !ok {
		s = &WorkerState{WorkerID: workerID, MaxRetries: m.maxRetries}
		m.states[workerID] = s
	}
	return s
}

// RecordFailure accounts for a failed execution by workerID.
func (m *Manager) RecordFailure(workerID string, errMsg string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(workerID)
	s.TotalFailures++
	s.LastError = errMsg

	if s.Failures < m.maxRetries {
		s.Failures++
		return Outcome{Retry: true, Attempt: s.Failures, MaxRetries: m.maxRetries}
	}
	return Outcome{Retry: false, Attempt: s.Failures, MaxRetries: m.maxRetries}
}

// RecordSuccess resets workerID's consecutive failure count.
func (m *Manager) RecordSuccess(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(workerID)
	s.TotalSuccesses++
	s.Failures = 0
	s.LastError = ""
}

// Failures returns workerID's current consecutive failure count.
func (m *Manager) Failures(workerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.states[workerID]; ok {
		return s.Failures
	}
	return 0
}

// Exhausted reports whether workerID has used its whole retry budget.
func (m *Manager) Exhausted(workerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[workerID]
	return ok && s.Failures >= m.maxRetries
}

// ExhaustedWorkers returns the IDs of workers whose budget is used up.
func (m *Manager) ExhaustedWorkers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for id, s := range m.states {
		if s.Failures >= m.maxRetries && s.TotalFailures > 0 {
			out = append(out, id)
		}
	}
	return out
}

// ResetAll clears all retry state.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = make(map[string]*WorkerState)
}

// Snapshot returns a copy of all worker states.
func (m *Manager) Snapshot() map[string]WorkerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]WorkerState, len(m.states))
	for k, v := range m.states {
		out[k] = *v
	}
	return out
}
