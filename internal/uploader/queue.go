package uploader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docsync/docsync/internal/metrics"
)

var (
	// ErrTaskNotFound is returned when no task carries the given id.
	ErrTaskNotFound = errors.New("upload task not found")

	// ErrQueueClosed is returned for mutations on a closed queue.
	ErrQueueClosed = errors.New("upload queue is closed")
)

// Sink performs a single upload. Progress callbacks carry integer
// percentages and may be invoked from the sink's goroutine.
type Sink interface {
	Upload(ctx context.Context, spec Spec, progress func(percent int)) error
}

// Queue schedules uploads strictly in arrival order with a single
// in-flight task. A drain goroutine runs only while work is pending;
// Enqueue and Retry start one when the queue is idle, never two.
type Queue struct {
	sink    Sink
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	tasks     []*Task // arrival order, all statuses
	byID      map[string]*Task
	draining  bool
	idleWait  chan struct{}
	onDrained func()
	closed    bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics counts finished tasks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New returns an idle queue uploading through sink.
func New(sink Sink, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		byID:   make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetOnDrained registers a hook invoked once each time a drain empties the
// queue. Dependents use it to re-query the local listing and the snapshot.
func (q *Queue) SetOnDrained(fn func()) {
	q.mu.Lock()
	q.onDrained = fn
	q.mu.Unlock()
}

// Enqueue appends one queued task per path and starts draining if the
// queue is idle. It returns copies of the created tasks.
func (q *Queue) Enqueue(bucket string, paths []string) []Task {
	if len(paths) == 0 {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.Warn().Str("bucket", bucket).Int("files", len(paths)).
			Msg("enqueue on closed upload queue, dropping")
		return nil
	}

	now := time.Now()
	created := make([]Task, 0, len(paths))
	for _, path := range paths {
		t := newTask(uuid.New().String(), bucket, path, now)
		q.tasks = append(q.tasks, t)
		q.byID[t.ID] = t
		created = append(created, *t)
	}
	q.kickLocked()
	q.mu.Unlock()

	log.Debug().Str("bucket", bucket).Int("files", len(paths)).
		Msg("upload tasks enqueued")
	return created
}

// kickLocked starts the drain goroutine unless one is already running.
// Caller holds q.mu.
func (q *Queue) kickLocked() {
	if q.draining {
		return
	}
	q.draining = true
	go q.drain()
}

func (q *Queue) drain() {
	for {
		t := q.next()
		if t == nil {
			break
		}
		q.runTask(t)
	}

	q.mu.Lock()
	fn := q.onDrained
	closed := q.closed
	q.mu.Unlock()
	if fn != nil && !closed {
		log.Debug().Msg("upload queue drained")
		fn()
	}
}

// next marks the first queued task uploading and returns it. When nothing
// is queued (or the queue closed) it flips the queue back to idle under
// the same lock, so a concurrent Enqueue either lands before the scan or
// starts the next drain itself.
func (q *Queue) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		for _, t := range q.tasks {
			if t.Status == StatusQueued {
				t.Status = StatusUploading
				t.Progress = 0
				t.Error = ""
				return t
			}
		}
	}

	q.draining = false
	if q.idleWait != nil {
		close(q.idleWait)
		q.idleWait = nil
	}
	return nil
}

func (q *Queue) runTask(t *Task) {
	spec := t.Spec() // immutable after creation
	id := t.ID

	log.Debug().Str("task", id).Str("bucket", spec.Bucket).
		Str("file", spec.Name).Msg("upload started")

	err := q.sink.Upload(q.ctx, spec, func(percent int) {
		q.setProgress(id, percent)
	})

	q.mu.Lock()
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
	} else {
		t.Status = StatusCompleted
		t.Progress = 100
	}
	m := q.metrics
	q.mu.Unlock()

	if err != nil {
		if m != nil {
			m.UploadsTotal.WithLabelValues("failed").Inc()
		}
		log.Warn().Err(err).Str("task", id).Str("bucket", spec.Bucket).
			Str("file", spec.Name).Msg("upload failed, advancing queue")
		return
	}
	if m != nil {
		m.UploadsTotal.WithLabelValues("completed").Inc()
	}
	log.Info().Str("task", id).Str("bucket", spec.Bucket).
		Str("file", spec.Name).Msg("upload completed")
}

// setProgress applies a sink progress callback. Late callbacks after the
// task finished are dropped.
func (q *Queue) setProgress(id string, percent int) {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	q.mu.Lock()
	if t, ok := q.byID[id]; ok && t.Status == StatusUploading {
		t.Progress = percent
	}
	q.mu.Unlock()
}

// Cancel removes a queued or failed task. The in-flight task cannot be
// cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != StatusQueued && t.Status != StatusFailed {
		return &StateError{ID: id, Status: t.Status, Op: "cancel"}
	}
	q.removeLocked(id)
	return nil
}

// Retry resets a failed task to queued, keeping its arrival position, and
// starts draining if the queue is idle.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	t, ok := q.byID[id]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status != StatusFailed {
		return &StateError{ID: id, Status: t.Status, Op: "retry"}
	}
	t.Status = StatusQueued
	t.Progress = 0
	t.Error = ""
	q.kickLocked()
	return nil
}

// ClearCompleted removes all completed tasks and returns how many were
// removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for i := 0; i < len(q.tasks); {
		if q.tasks[i].Status == StatusCompleted {
			delete(q.byID, q.tasks[i].ID)
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			removed++
			continue
		}
		i++
	}
	return removed
}

func (q *Queue) removeLocked(id string) {
	delete(q.byID, id)
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// Tasks returns a copy of all tasks in arrival order.
func (q *Queue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	return out
}

// Task returns a copy of the task with the given id.
func (q *Queue) Task(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Depth reports how many tasks are pending or uploading. It feeds the
// queue-depth gauge through the metrics collector.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.tasks {
		if !t.Status.Finished() {
			n++
		}
	}
	return n
}

// WaitIdle blocks until no drain is running or ctx is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.draining {
			q.mu.Unlock()
			return nil
		}
		if q.idleWait == nil {
			q.idleWait = make(chan struct{})
		}
		ch := q.idleWait
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close aborts the in-flight upload and stops the queue. Queued tasks keep
// their status; further Enqueue and Retry calls are rejected. Close is
// idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
}
