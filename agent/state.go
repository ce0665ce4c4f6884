// Package agent drives a conversation turn: it runs the generation loop,
// executes tools, enforces the escalation policy on model output, and
// emits frames to the client through an Emitter.
package agent

import "fmt"

// State is a turn's lifecycle state.
type State string

const (
	StateAwaitingModel  State = "awaiting_model"  // About to request a generation
	StateStreaming      State = "streaming"       // Consuming generation output
	StateExecutingTools State = "executing_tools" // Running requested tools
	StateCompleted      State = "completed"       // Turn finished
	StateFailed         State = "failed"          // Turn aborted
)

// validTransitions defines the legal state transitions for one turn.
var validTransitions = map[State][]State{
	StateAwaitingModel:  {StateStreaming, StateFailed},
	StateStreaming:      {StateExecutingTools, StateCompleted, StateAwaitingModel, StateFailed},
	StateExecutingTools: {StateAwaitingModel, StateStreaming, StateFailed},
	StateCompleted:      {},
	StateFailed:         {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition reports an illegal state transition.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
