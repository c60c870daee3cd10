// Package workflows provides the status transition tables for marketplace
// entities.
package workflows

import "sort"

// StateMachine enforces status transitions for a single entity kind.
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from an allowed-transition table.
// States absent from the table are treated as terminal.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: transitions}
}

// CanTransition checks if a status transition is allowed.
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status.
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// Sources returns every status that may transition into to, in table
// iteration-independent sorted order.
func (sm *StateMachine) Sources(to string) []string {
	var from []string
	for status, allowed := range sm.allowedTransitions {
		for _, allowedTo := range allowed {
			if allowedTo == to {
				from = append(from, status)
				break
			}
		}
	}
	sort.Strings(from)
	return from
}

// IsTerminal reports whether a status has no outgoing transitions.
func (sm *StateMachine) IsTerminal(status string) bool {
	return len(sm.allowedTransitions[status]) == 0
}
