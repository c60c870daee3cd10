package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newListingMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"Active": {"Sold", "Closed"},
		"Sold":   {},
		"Closed": {},
	})
}

func TestCanTransition(t *testing.T) {
	sm := newListingMachine()

	assert.True(t, sm.CanTransition("Active", "Sold"))
	assert.True(t, sm.CanTransition("Active", "Closed"))
	assert.False(t, sm.CanTransition("Sold", "Active"))
	assert.False(t, sm.CanTransition("Closed", "Sold"))
	assert.False(t, sm.CanTransition("Unknown", "Sold"))
}

func TestTerminalStates(t *testing.T) {
	sm := newListingMachine()

	assert.False(t, sm.IsTerminal("Active"))
	assert.True(t, sm.IsTerminal("Sold"))
	assert.True(t, sm.IsTerminal("Closed"))
}

func TestSources(t *testing.T) {
	sm := NewStateMachine(map[string][]string{
		"Pending":   {"Confirmed", "Cancelled"},
		"Confirmed": {"Completed", "Cancelled"},
		"Completed": {},
		"Cancelled": {},
	})

	assert.Equal(t, []string{"Confirmed", "Pending"}, sm.Sources("Cancelled"))
	assert.Equal(t, []string{"Confirmed"}, sm.Sources("Completed"))
	assert.Empty(t, sm.Sources("Pending"))
}

func TestGetAllowedTransitions(t *testing.T) {
	sm := newListingMachine()

	assert.ElementsMatch(t, []string{"Sold", "Closed"}, sm.GetAllowedTransitions("Active"))
	assert.Empty(t, sm.GetAllowedTransitions("Sold"))
	assert.Empty(t, sm.GetAllowedTransitions("missing"))
}
