package orchestrator

import (
	"fmt"
	"sync"
)

// State is a conversation state.
type State int

const (
	Initializing State = iota
	Greeting
	WaitingForFirstInput
	DeliveringPredefinedInstruction
	ConfirmingPredefinedInstruction
	RunningSteps
	StepAwaitingUserInput
	ProcessingUserQuestion
	Completed
	IdleQnA
)

var stateNames = [...]string{
	Initializing:                    "Initializing",
	Greeting:                        "Greeting",
	WaitingForFirstInput:            "WaitingForFirstInput",
	DeliveringPredefinedInstruction: "DeliveringPredefinedInstruction",
	ConfirmingPredefinedInstruction: "ConfirmingPredefinedInstruction",
	RunningSteps:                    "RunningSteps",
	StepAwaitingUserInput:           "StepAwaitingUserInput",
	ProcessingUserQuestion:          "ProcessingUserQuestion",
	Completed:                       "Completed",
	IdleQnA:                         "IdleQnA",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// acceptsQuestion reports whether an utterance in s starts a question turn.
func (s State) acceptsQuestion() bool {
	return s == StepAwaitingUserInput || s == IdleQnA || s == Completed
}

// Machine holds the current state and notifies observers on change.
// Observers run synchronously on the goroutine that calls Set, in
// registration order.
type Machine struct {
	mu        sync.RWMutex
	state     State
	observers []func(old, new State)
}

// NewMachine creates a machine in initial.
func NewMachine(initial State) *Machine {
	return &Machine{state: initial}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnChange registers an observer.
func (m *Machine) OnChange(fn func(old, new State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Set moves to s. Setting the current state is a no-op and notifies no one.
// It reports whether the state changed.
func (m *Machine) Set(s State) bool {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return false
	}
	old := m.state
	m.state = s
	observers := m.observers
	m.mu.Unlock()

	for _, fn := range observers {
		fn(old, s)
	}
	return true
}
