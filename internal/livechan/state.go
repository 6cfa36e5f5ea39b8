package livechan

import "fmt"

// State represents the lifecycle state of the live event subscription.
type State int

const (
	// StateIdle indicates the client has not been started.
	StateIdle State = iota

	// StateConnecting indicates a subscribe attempt is in progress.
	StateConnecting

	// StateConnected indicates an active subscription is receiving events.
	StateConnected

	// StateBackoff indicates the subscription dropped and a reconnect is scheduled.
	StateBackoff

	// StateLost indicates the retry budget is exhausted. Only a manual
	// Reconnect leaves this state.
	StateLost

	// StateClosed indicates the client has been explicitly closed (terminal state).
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateLost:
		return "lost"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal returns true if the retry loop has stopped in this state.
// Lost can still be left through an explicit Reconnect; Closed cannot.
func (s State) IsTerminal() bool {
	return s == StateLost || s == StateClosed
}

// IsActive returns true if the subscription is usable for receiving events.
func (s State) IsActive() bool {
	return s == StateConnected
}

// CanTransitionTo returns true if a transition to the target state is valid.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateIdle:
		// Can start connecting or be closed before ever starting
		return target == StateConnecting || target == StateClosed

	case StateConnecting:
		// Can succeed, fail into backoff, exhaust the budget, or be cancelled
		return target == StateConnected || target == StateBackoff ||
			target == StateLost || target == StateClosed

	case StateConnected:
		// Can lose the stream (backoff) or be explicitly closed
		return target == StateBackoff || target == StateClosed

	case StateBackoff:
		// Can retry, exhaust the budget, or be cancelled
		return target == StateConnecting || target == StateLost || target == StateClosed

	case StateLost:
		// Manual reconnect or close only
		return target == StateConnecting || target == StateClosed

	default:
		return false
	}
}

// TransitionError is returned when an invalid state transition is attempted.
type TransitionError struct {
	From    State
	To      State
	Message string
}

func (e *TransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid live channel transition: %s -> %s: %s",
			e.From, e.To, e.Message)
	}
	return fmt.Sprintf("invalid live channel transition: %s -> %s", e.From, e.To)
}

// NewTransitionError creates a new transition error.
func NewTransitionError(from, to State, message string) *TransitionError {
	return &TransitionError{
		From:    from,
		To:      to,
		Message: message,
	}
}
