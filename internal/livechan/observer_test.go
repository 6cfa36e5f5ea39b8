package livechan

import (
	"testing"
	"time"
)

func TestObserverFunc(t *testing.T) {
	var received *Transition
	observer := ObserverFunc(func(t Transition) {
		received = &t
	})

	transition := Transition{
		From:      StateConnecting,
		To:        StateConnected,
		Timestamp: time.Now(),
		Reason:    "subscribed",
	}

	observer.OnTransition(transition)

	if received == nil {
		t.Fatal("ObserverFunc was not called")
	}
	if received.To != StateConnected {
		t.Errorf("Received.To = %v, want %v", received.To, StateConnected)
	}
}

func TestMultiObserver(t *testing.T) {
	recorder1 := &transitionRecorder{}
	recorder2 := &transitionRecorder{}

	multi := NewMultiObserver(recorder1, recorder2)

	transition := Transition{
		From:      StateConnected,
		To:        StateBackoff,
		Timestamp: time.Now(),
		Reason:    "stream dropped",
	}

	multi.OnTransition(transition)

	if len(recorder1.Transitions()) != 1 {
		t.Errorf("Recorder1 should have 1 transition, got %d", len(recorder1.Transitions()))
	}
	if len(recorder2.Transitions()) != 1 {
		t.Errorf("Recorder2 should have 1 transition, got %d", len(recorder2.Transitions()))
	}

	recorder3 := &transitionRecorder{}
	multi.Add(recorder3)

	multi.OnTransition(transition)

	if len(recorder3.Transitions()) != 1 {
		t.Errorf("Recorder3 should have 1 transition, got %d", len(recorder3.Transitions()))
	}
}
