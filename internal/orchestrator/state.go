package orchestrator

import "fmt"

// State is a phase of the orchestration state machine.
type State string

const (
	StateIdle     State = "idle"
	StateResuming State = "resuming"
	StateScanning State = "scanning"
	StateProbing  State = "probing"
	StateDraining State = "draining"
	StateDone     State = "done"
)

// Terminal reports whether a session that reached s has returned.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateDone
}

// Reasons recorded on the Run row when a session ends.
const (
	ReasonComplete    = "complete"
	ReasonBudget      = "budget"
	ReasonStopped     = "stopped"
	ReasonUnreachable = "unreachable"
	ReasonError       = "error"
)

// label renders a state for logs; scanning carries the priority polled.
func label(s State, priority int) string {
	if s == StateScanning && priority > 0 {
		return fmt.Sprintf("%s(%d)", s, priority)
	}
	return string(s)
}

// transition moves the machine to next and logs the edge.
func (o *Orchestrator) transition(next State, priority int) {
	o.mu.Lock()
	from := label(o.state, o.priority)
	o.state = next
	o.priority = priority
	o.mu.Unlock()

	to := label(next, priority)
	if from != to {
		o.log.StateEvent(from, to)
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}
