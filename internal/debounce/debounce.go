// Package debounce coalesces bursts of events into single trailing-edge
// deliveries. The live channel uses it for index-update events and the
// library watcher for filesystem bursts.
package debounce

import (
	"context"
	"time"
)

// Debouncer coalesces rapid events of type T. Only the most recent event
// of a burst is delivered, one interval after the burst goes quiet.
type Debouncer[T any] struct {
	interval time.Duration
	input    <-chan T
	output   chan T
}

// New creates a debouncer that coalesces events within the given interval.
func New[T any](input <-chan T, interval time.Duration) *Debouncer[T] {
	return &Debouncer[T]{
		interval: interval,
		input:    input,
		output:   make(chan T),
	}
}

// Run starts the debouncer and returns the output channel. The channel is
// closed when ctx is cancelled or the input channel closes.
func (d *Debouncer[T]) Run(ctx context.Context) <-chan T {
	go d.loop(ctx)
	return d.output
}

func (d *Debouncer[T]) loop(ctx context.Context) {
	defer close(d.output)

	var timer *time.Timer
	var timerChan <-chan time.Time
	var pending *T

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-d.input:
			if !ok {
				// Input channel closed, flush any pending event
				if pending != nil {
					select {
					case d.output <- *pending:
					case <-ctx.Done():
					}
				}
				return
			}

			// Store the event (overwriting any pending event)
			pending = &event

			// Reset or create the timer
			if timer == nil {
				timer = time.NewTimer(d.interval)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d.interval)
			}
			timerChan = timer.C

		case <-timerChan:
			// Timer fired, emit the pending event
			if pending != nil {
				select {
				case d.output <- *pending:
				case <-ctx.Done():
					return
				}
				pending = nil
			}
			timerChan = nil
		}
	}
}
