package consumer

import (
	"sync"

	"csc-relay/internal/models"
)

// StateTracker remembers the last summaryState event of each component,
// for authlist entries restricted to a summary state.
type StateTracker struct {
	mu     sync.RWMutex
	states map[models.ComponentID]int
}

// NewStateTracker creates the tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{
		states: make(map[models.ComponentID]int),
	}
}

// Set records the current summary state of a component.
func (t *StateTracker) Set(component models.ComponentID, state int) {
	t.mu.Lock()
	t.states[component] = state
	t.mu.Unlock()
}

// SummaryState implements authlist.StateProvider.
func (t *StateTracker) SummaryState(component models.ComponentID) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[component]
	return state, ok
}
