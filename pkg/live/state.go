package live

import "time"

type State int

const (
	Idle State = iota
	Listening
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Listening -> Listening is the automatic restart after a benign end.
var validTransitions = map[State][]State{
	Idle:      {Listening},
	Listening: {Listening, Idle, Errored},
	Errored:   {Listening, Idle},
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
	// Err is set on transitions into Errored.
	Err error
}

// StateListener observes session state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
