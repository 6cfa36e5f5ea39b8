package livechan

import "time"

// Transition represents a state change event.
type Transition struct {
	// From is the previous state.
	From State

	// To is the new state.
	To State

	// Attempt is the reconnect attempt counter at the time of the transition.
	Attempt int

	// Timestamp is when the transition occurred.
	Timestamp time.Time

	// Reason is a human-readable description of why the transition occurred.
	Reason string

	// Err is non-nil if the transition was caused by an error.
	Err error
}

// Observer receives notifications about state transitions.
// Notifications are delivered synchronously from the client's run loop, so
// implementations should not block or call back into the client.
type Observer interface {
	// OnTransition is called when the channel state changes.
	OnTransition(t Transition)
}

// ObserverFunc is an adapter that allows using ordinary functions as Observers.
type ObserverFunc func(Transition)

// OnTransition implements the Observer interface.
func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}

// MultiObserver combines multiple observers into one.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates a new MultiObserver with the given observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{
		observers: observers,
	}
}

// Add adds an observer to the multi-observer.
func (m *MultiObserver) Add(o Observer) {
	m.observers = append(m.observers, o)
}

// OnTransition notifies all observers of the transition.
func (m *MultiObserver) OnTransition(t Transition) {
	for _, o := range m.observers {
		o.OnTransition(t)
	}
}
