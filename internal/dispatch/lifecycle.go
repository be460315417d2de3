package dispatch

// State is one position in the deferred-invocation lifecycle.
type State string

const (
	StateReceived       State = "received"
	StateAcknowledged   State = "acknowledged"
	StateDispatched     State = "dispatched"
	StateDiscovering    State = "discovering"
	StateRunning        State = "running"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
	StateDispatchFailed State = "dispatch_failed"
	StateTimedOut       State = "timed_out"
)

// Terminal reports whether no further transition occurs from s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateDispatchFailed, StateTimedOut:
		return true
	}
	return false
}

// lifecycleTransitions is the full transition relation for one invocation.
// In no-wait mode the machine simply stops at dispatched.
var lifecycleTransitions = map[State]map[State]bool{
	StateReceived: {
		StateAcknowledged: true,
	},
	StateAcknowledged: {
		StateDispatched:     true,
		StateDispatchFailed: true,
	},
	StateDispatched: {
		StateDiscovering: true,
	},
	StateDiscovering: {
		StateRunning:  true,
		StateTimedOut: true,
	},
	StateRunning: {
		StateSucceeded: true,
		StateFailed:    true,
		StateTimedOut:  true,
	},
}

// CanTransition reports whether from→to is a legal lifecycle move.
// Self-transitions are allowed (idempotent re-entry).
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return lifecycleTransitions[from][to]
}
