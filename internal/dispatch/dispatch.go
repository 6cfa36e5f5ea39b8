// Package dispatch coordinates batch processing dispatches: a selection
// set over buckets and a parallel, all-settled fan-out that seeds
// optimistic records and rolls them back per failed bucket.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/docsync/docsync/internal/docstate"
	"github.com/docsync/docsync/internal/metrics"
)

// ErrBucketProcessing is returned when a bucket with in-flight processing
// is selected. Re-dispatch onto such a bucket is never permitted.
var ErrBucketProcessing = errors.New("bucket has processing in flight")

// Dispatcher asks the backend to process files already uploaded to a
// bucket. Acceptance is not completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, bucket string, files []string) error
}

// BatchError aggregates per-bucket dispatch failures.
type BatchError struct {
	Failures map[string]error
}

func (e *BatchError) Error() string {
	buckets := make([]string, 0, len(e.Failures))
	for b := range e.Failures {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	parts := make([]string, 0, len(buckets))
	for _, b := range buckets {
		parts = append(parts, fmt.Sprintf("%s: %v", b, e.Failures[b]))
	}
	return fmt.Sprintf("dispatch failed for %d of the selected buckets: %s",
		len(buckets), strings.Join(parts, "; "))
}

// Report is the per-bucket outcome of one batch dispatch.
type Report struct {
	Dispatched map[string][]string // bucket -> files accepted for processing
	Skipped    map[string]string   // bucket -> reason it was not dispatched
	Failed     map[string]error    // bucket -> dispatch error (rolled back)
}

// Coordinator owns the bucket selection and runs batch dispatches against
// the store and calculator.
type Coordinator struct {
	store      *docstate.Store
	calc       *docstate.Calculator
	dispatcher Dispatcher
	metrics    *metrics.Metrics

	mu       sync.Mutex
	selected map[string]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics counts dispatch outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New returns a coordinator with an empty selection.
func New(store *docstate.Store, calc *docstate.Calculator, d Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		calc:       calc,
		dispatcher: d,
		selected:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Select adds a bucket to the selection. Buckets with processing in
// flight are rejected.
func (c *Coordinator) Select(bucket string) error {
	if c.calc.IsAnyProcessing(bucket) {
		return fmt.Errorf("select %s: %w", bucket, ErrBucketProcessing)
	}

	c.mu.Lock()
	c.selected[bucket] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Deselect removes a bucket from the selection.
func (c *Coordinator) Deselect(bucket string) {
	c.mu.Lock()
	delete(c.selected, bucket)
	c.mu.Unlock()
}

// SelectAll selects every given bucket that has no processing in flight
// and returns the buckets actually selected, sorted.
func (c *Coordinator) SelectAll(buckets []string) []string {
	picked := make([]string, 0, len(buckets))
	c.mu.Lock()
	for _, b := range buckets {
		if c.calc.IsAnyProcessing(b) {
			continue
		}
		c.selected[b] = struct{}{}
		picked = append(picked, b)
	}
	c.mu.Unlock()

	sort.Strings(picked)
	return picked
}

// Selected returns the current selection, sorted.
func (c *Coordinator) Selected() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.selected))
	for b := range c.selected {
		out = append(out, b)
	}
	c.mu.Unlock()

	sort.Strings(out)
	return out
}

// Clear empties the selection.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.selected = make(map[string]struct{})
	c.mu.Unlock()
}

// DispatchSelected dispatches the given buckets, or the current selection
// when buckets is nil. Per bucket it computes the unsynced files, seeds
// optimistic records and issues one dispatcher call; calls run in parallel
// and are joined all-settled, so one rejection never cancels the others.
// Failed buckets have their optimistic records rolled back and are
// reported in a BatchError naming each bucket. The selection is cleared
// regardless of outcomes.
func (c *Coordinator) DispatchSelected(ctx context.Context, buckets []string) (*Report, error) {
	if buckets == nil {
		buckets = c.Selected()
	}
	defer c.Clear()

	report := &Report{
		Dispatched: make(map[string][]string),
		Skipped:    make(map[string]string),
		Failed:     make(map[string]error),
	}

	type batch struct {
		bucket string
		files  []string
	}
	var batches []batch

	for _, bucket := range buckets {
		if c.calc.IsAnyProcessing(bucket) {
			report.Skipped[bucket] = "processing in flight"
			continue
		}
		files, err := c.calc.UnsyncedFiles(bucket)
		if err != nil {
			report.Failed[bucket] = err
			continue
		}
		if len(files) == 0 {
			report.Skipped[bucket] = "nothing to sync"
			continue
		}
		c.store.SeedOptimistic(bucket, files)
		batches = append(batches, batch{bucket: bucket, files: files})
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, b := range batches {
		b := b
		g.Go(func() error {
			err := c.dispatcher.Dispatch(ctx, b.bucket, b.files)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// No events will arrive for this batch; drop the
				// optimistic records instead of letting them dangle.
				c.store.MarkDispatchFailed(b.bucket, b.files)
				report.Failed[b.bucket] = err
				c.countDispatch("failed")
				log.Warn().Err(err).Str("bucket", b.bucket).
					Int("files", len(b.files)).Msg("dispatch rejected, rolled back")
				return nil
			}
			report.Dispatched[b.bucket] = b.files
			c.countDispatch("accepted")
			log.Info().Str("bucket", b.bucket).Int("files", len(b.files)).
				Msg("dispatch accepted")
			return nil
		})
	}
	_ = g.Wait()

	if len(report.Failed) > 0 {
		return report, &BatchError{Failures: report.Failed}
	}
	return report, nil
}

func (c *Coordinator) countDispatch(result string) {
	if c.metrics != nil {
		c.metrics.DispatchesTotal.WithLabelValues(result).Inc()
	}
}
