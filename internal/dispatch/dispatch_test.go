package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/docstate"
	"github.com/docsync/docsync/pkg/proto"
	"github.com/docsync/docsync/testutil"
)

// fakeLister serves fixed per-bucket file lists.
type fakeLister struct {
	files map[string][]string
}

func (f *fakeLister) List(bucket string) ([]string, error) {
	files, ok := f.files[bucket]
	if !ok {
		return nil, fmt.Errorf("list bucket %s: not found", bucket)
	}
	return files, nil
}

// fakeDispatcher records calls, fails configured buckets and can hold
// calls open until released.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls map[string][]string
	fail  map[string]error

	inflight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: make(map[string][]string), fail: make(map[string]error)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, bucket string, files []string) error {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls[bucket] = files
	err := f.fail[bucket]
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeDispatcher) called(bucket string) ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	files, ok := f.calls[bucket]
	return files, ok
}

func newCoordinator(files map[string][]string, d Dispatcher) (*Coordinator, *docstate.Store) {
	store := docstate.New(time.Minute)
	calc := docstate.NewCalculator(store, &fakeLister{files: files})
	return New(store, calc, d), store
}

func TestSelectRejectsProcessingBucket(t *testing.T) {
	fake := newFakeDispatcher()
	c, store := newCoordinator(map[string][]string{"acme": {"a.pdf"}}, fake)

	store.SeedOptimistic("acme", []string{"a.pdf"})

	assert.ErrorIs(t, c.Select("acme"), ErrBucketProcessing)
	require.NoError(t, c.Select("globex"))
	assert.Equal(t, []string{"globex"}, c.Selected())
}

func TestSelectAllFiltersProcessing(t *testing.T) {
	fake := newFakeDispatcher()
	c, store := newCoordinator(map[string][]string{}, fake)

	store.SeedOptimistic("acme", []string{"a.pdf"})

	picked := c.SelectAll([]string{"globex", "acme", "initech"})
	assert.Equal(t, []string{"globex", "initech"}, picked)
	assert.Equal(t, []string{"globex", "initech"}, c.Selected())

	c.Deselect("globex")
	assert.Equal(t, []string{"initech"}, c.Selected())

	c.Clear()
	assert.Empty(t, c.Selected())
}

func TestDispatchSelectedSeedsAndDispatches(t *testing.T) {
	fake := newFakeDispatcher()
	c, store := newCoordinator(map[string][]string{
		"acme":   {"a.pdf", "b.pdf"},
		"globex": {"r.pdf"},
	}, fake)

	report, err := c.DispatchSelected(context.Background(), []string{"acme", "globex"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.pdf", "b.pdf"}, report.Dispatched["acme"])
	assert.Equal(t, []string{"r.pdf"}, report.Dispatched["globex"])
	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Skipped)

	got, ok := fake.called("acme")
	require.True(t, ok)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, got)

	// Optimistic records stay in place for the live channel to reconcile.
	for _, file := range []string{"a.pdf", "b.pdf"} {
		rec, ok := store.ActiveRecord("acme", file)
		require.True(t, ok, file)
		assert.True(t, rec.Optimistic())
		assert.True(t, rec.Processing)
	}
}

func TestDispatchFailureRollsBackAndNamesBucket(t *testing.T) {
	fake := newFakeDispatcher()
	fake.fail["acme"] = errors.New("connection refused")
	c, store := newCoordinator(map[string][]string{
		"acme":   {"a.pdf", "b.pdf"},
		"globex": {"r.pdf"},
	}, fake)

	require.NoError(t, c.Select("acme"))
	require.NoError(t, c.Select("globex"))

	report, err := c.DispatchSelected(context.Background(), nil)
	require.Error(t, err)

	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Contains(t, batchErr.Error(), "acme")
	assert.Contains(t, batchErr.Error(), "connection refused")
	assert.NotContains(t, batchErr.Error(), "globex")

	// Both of acme's optimistic records are gone, globex's remain.
	_, ok := store.ActiveRecord("acme", "a.pdf")
	assert.False(t, ok)
	_, ok = store.ActiveRecord("acme", "b.pdf")
	assert.False(t, ok)
	_, ok = store.ActiveRecord("globex", "r.pdf")
	assert.True(t, ok)

	assert.Contains(t, report.Failed, "acme")
	assert.Equal(t, []string{"r.pdf"}, report.Dispatched["globex"])

	// Selection is cleared regardless of outcomes.
	assert.Empty(t, c.Selected())
}

func TestDispatchSkipsEmptyAndInFlight(t *testing.T) {
	fake := newFakeDispatcher()
	c, store := newCoordinator(map[string][]string{
		"acme":   {"a.pdf"},
		"globex": {"r.pdf"},
	}, fake)

	// acme already has processing in flight; globex is fully synced.
	store.SeedOptimistic("acme", []string{"a.pdf"})
	store.ApplySnapshot("globex", proto.BucketDocuments{"r.pdf": {DocID: "d1"}})

	report, err := c.DispatchSelected(context.Background(), []string{"acme", "globex"})
	require.NoError(t, err)

	assert.Equal(t, "processing in flight", report.Skipped["acme"])
	assert.Equal(t, "nothing to sync", report.Skipped["globex"])
	assert.Empty(t, report.Dispatched)

	_, calledAcme := fake.called("acme")
	assert.False(t, calledAcme)
	_, calledGlobex := fake.called("globex")
	assert.False(t, calledGlobex)
}

func TestDispatchRunsInParallel(t *testing.T) {
	fake := newFakeDispatcher()
	fake.release = make(chan struct{})
	c, _ := newCoordinator(map[string][]string{
		"acme":   {"a.pdf"},
		"globex": {"r.pdf"},
	}, fake)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.DispatchSelected(context.Background(), []string{"acme", "globex"})
	}()

	// Both dispatcher calls must be in flight at once.
	require.NoError(t, testutil.WaitFor(2*time.Second, 5*time.Millisecond, func() bool {
		return fake.inflight.Load() == 2
	}))
	close(fake.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not settle")
	}
	assert.Equal(t, int32(2), fake.peak.Load())
}

func TestDispatchListErrorReported(t *testing.T) {
	fake := newFakeDispatcher()
	c, _ := newCoordinator(map[string][]string{}, fake)

	report, err := c.DispatchSelected(context.Background(), []string{"missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	require.Contains(t, report.Failed, "missing")

	_, called := fake.called("missing")
	assert.False(t, called)
}
