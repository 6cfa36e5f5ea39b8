package debounce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesToLastEvent(t *testing.T) {
	input := make(chan int, 10)
	debouncer := New(input, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := debouncer.Run(ctx)

	// Send multiple rapid events
	for i := 1; i <= 5; i++ {
		input <- i
	}

	// Wait for debounce period
	time.Sleep(100 * time.Millisecond)

	// Should receive only the most recent event of the burst
	select {
	case got := <-output:
		assert.Equal(t, 5, got)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected to receive an event")
	}

	// Should not receive more events immediately
	select {
	case <-output:
		t.Fatal("should not receive another event")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestDebouncerPassesSingleEvent(t *testing.T) {
	input := make(chan string, 10)
	debouncer := New(input, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := debouncer.Run(ctx)

	input <- "refresh"

	time.Sleep(100 * time.Millisecond)

	select {
	case got := <-output:
		assert.Equal(t, "refresh", got)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected to receive an event")
	}
}

func TestDebouncerDeliversSecondBurst(t *testing.T) {
	input := make(chan int, 10)
	debouncer := New(input, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := debouncer.Run(ctx)

	input <- 1

	select {
	case got := <-output:
		assert.Equal(t, 1, got)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected first burst to be delivered")
	}

	// A burst after a quiet period must re-arm the timer
	input <- 2

	select {
	case got := <-output:
		assert.Equal(t, 2, got)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected second burst to be delivered")
	}
}

func TestDebouncerContextCancellation(t *testing.T) {
	input := make(chan int, 10)
	debouncer := New(input, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	output := debouncer.Run(ctx)

	cancel()

	// Output channel should be closed
	select {
	case _, ok := <-output:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected channel to be closed")
	}
}

func TestDebouncerInputClose(t *testing.T) {
	input := make(chan int, 10)
	debouncer := New(input, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	output := debouncer.Run(ctx)

	// Send an event then close input
	input <- 7
	close(input)

	// Should receive the pending event
	select {
	case got := <-output:
		assert.Equal(t, 7, got)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected to receive pending event")
	}

	// Output should be closed
	select {
	case _, ok := <-output:
		assert.False(t, ok, "output channel should be closed")
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected output channel to be closed")
	}
}
