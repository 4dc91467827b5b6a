// Package retry governs repeated attempts of phases and tasks.
//
// Two pieces cooperate: the Governor runs an operation up to a bounded
// number of attempts, and the Manager tracks attempt history per scope
// (a phase or a task) so a resumed run and the status surfaces can see
// what was retried and why.
package retry

import (
	"sync"
	"time"
)

// AttemptRecord is one recorded attempt of a scoped operation.
type AttemptRecord struct {
	Attempt   int       `json:"attempt"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration,omitempty"`
}

// ScopeState tracks attempts for one retryable scope.
type ScopeState struct {
	ScopeID     string          `json:"scope_id"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	Succeeded   bool            `json:"succeeded,omitempty"`
	History     []AttemptRecord `json:"history,omitempty"`
}

// Exhausted reports whether the scope has used all attempts without success.
func (s *ScopeState) Exhausted() bool {
	return !s.Succeeded && s.Attempts >= s.MaxAttempts
}

// Manager tracks retry state per scope. Safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*ScopeState
}

// NewManager creates an empty retry manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*ScopeState)}
}

// GetOrCreateState returns or creates state for a scope.
func (m *Manager) GetOrCreateState(scopeID string, maxAttempts int) *ScopeState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[scopeID]
	if !ok {
		state = &ScopeState{ScopeID: scopeID, MaxAttempts: maxAttempts}
		m.states[scopeID] = state
	}
	return state
}

// GetState returns the state for a scope, or nil.
func (m *Manager) GetState(scopeID string) *ScopeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[scopeID]
}

// ShouldRetry reports whether a scope has attempts remaining.
func (m *Manager) ShouldRetry(scopeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[scopeID]
	if !ok {
		return false
	}
	return !state.Succeeded && state.Attempts < state.MaxAttempts
}

// RecordAttempt records one attempt outcome for a scope.
func (m *Manager) RecordAttempt(scopeID string, rec AttemptRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[scopeID]
	if !ok {
		return
	}
	state.Attempts++
	rec.Attempt = state.Attempts
	state.History = append(state.History, rec)
	if rec.Success {
		state.Succeeded = true
		state.LastError = ""
	} else {
		state.LastError = rec.Error
	}
}

// ExhaustedScopes returns the IDs of scopes that used all attempts
// without succeeding.
func (m *Manager) ExhaustedScopes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for id, state := range m.states {
		if state.Exhausted() {
			out = append(out, id)
		}
	}
	return out
}

// Reset clears the state for a scope.
func (m *Manager) Reset(scopeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, scopeID)
}
