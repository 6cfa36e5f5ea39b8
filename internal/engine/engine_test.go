package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/livechan"
	"github.com/docsync/docsync/internal/uploader"
	"github.com/docsync/docsync/pkg/proto"
	"github.com/docsync/docsync/testutil"
)

// backendStub serves the REST endpoints and the SSE stream the engine
// talks to.
type backendStub struct {
	srv *httptest.Server

	mu        sync.Mutex
	snapshots map[string]proto.BucketDocuments
	states    map[string]proto.StateUpdate

	snapshotCalls atomic.Int32
	stateCalls    atomic.Int32
	uploads       atomic.Int32
	dispatches    atomic.Int32
}

func newBackendStub(t *testing.T) *backendStub {
	t.Helper()

	b := &backendStub{
		snapshots: map[string]proto.BucketDocuments{},
		states:    map[string]proto.StateUpdate{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/companies-with-documents", func(w http.ResponseWriter, r *http.Request) {
		b.snapshotCalls.Add(1)
		b.mu.Lock()
		resp := proto.SnapshotResponse{Success: true, Data: b.snapshots}
		body, _ := json.Marshal(resp)
		b.mu.Unlock()
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/api/document-processing-states", func(w http.ResponseWriter, r *http.Request) {
		b.stateCalls.Add(1)
		b.mu.Lock()
		body, _ := json.Marshal(b.states)
		b.mu.Unlock()
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/api/companies/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		b.uploads.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/process-documents", func(w http.ResponseWriter, r *http.Request) {
		b.dispatches.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/events/processing-updates", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"connected\",\"message\":\"hello\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backendStub) setSnapshots(m map[string]proto.BucketDocuments) {
	b.mu.Lock()
	b.snapshots = m
	b.mu.Unlock()
}

func (b *backendStub) setStates(m map[string]proto.StateUpdate) {
	b.mu.Lock()
	b.states = m
	b.mu.Unlock()
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Backend.URL = backendURL
	cfg.Library.Root = t.TempDir()
	watch := false
	cfg.Library.Watch = &watch
	return cfg
}

func TestEngineRefreshRehydrates(t *testing.T) {
	stub := newBackendStub(t)
	stub.setSnapshots(map[string]proto.BucketDocuments{
		"acme": {"a.pdf": {DocID: "d1", Pages: []int{1, 2}}},
	})
	stub.setStates(map[string]proto.StateUpdate{
		"doc-1": {
			Bucket:     "acme",
			FileName:   "b.pdf",
			Processing: proto.Bool(true),
			Progress:   proto.Int(40),
		},
	})

	e, err := New(testConfig(t, stub.srv.URL))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	require.NoError(t, e.Refresh(context.Background()))

	snap, ok := e.Store().Snapshot("acme")
	require.True(t, ok)
	assert.Contains(t, snap.Documents, "a.pdf")

	rec, ok := e.Store().Record("doc-1")
	require.True(t, ok)
	assert.True(t, rec.Processing)
	assert.Equal(t, 40, rec.Progress)

	// The next refresh replaces the snapshot set wholesale.
	stub.setSnapshots(map[string]proto.BucketDocuments{
		"globex": {"g.pdf": {DocID: "d9"}},
	})
	require.NoError(t, e.Refresh(context.Background()))

	_, ok = e.Store().Snapshot("acme")
	assert.False(t, ok, "stale bucket snapshot must be dropped")
	_, ok = e.Store().Snapshot("globex")
	assert.True(t, ok)
}

func TestEngineRefreshErrorLeavesStoreQueryable(t *testing.T) {
	stub := newBackendStub(t)
	stub.setSnapshots(map[string]proto.BucketDocuments{
		"acme": {"a.pdf": {DocID: "d1"}},
	})

	e, err := New(testConfig(t, stub.srv.URL))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	require.NoError(t, e.Refresh(context.Background()))
	stub.srv.Close()

	require.Error(t, e.Refresh(context.Background()))
	_, ok := e.Store().Snapshot("acme")
	assert.True(t, ok, "failed refresh must not clear the last good snapshot")
}

func TestEngineSyncBucket(t *testing.T) {
	stub := newBackendStub(t)
	cfg := testConfig(t, stub.srv.URL)

	bucketDir := filepath.Join(cfg.Library.Root, "acme")
	require.NoError(t, os.MkdirAll(bucketDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "report.pdf"), []byte("%PDF-1.4 test"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "notes.txt"), []byte("not a document"), 0o644))

	e, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	tasks, err := e.SyncBucket("acme")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "report.pdf", tasks[0].Name)

	require.NoError(t, e.Queue().WaitIdle(context.Background()))

	got := e.Queue().Tasks()
	require.Len(t, got, 1)
	assert.Equal(t, uploader.StatusCompleted, got[0].Status)
	assert.EqualValues(t, 1, stub.uploads.Load())

	// Draining the queue triggers a refresh.
	require.NoError(t, testutil.WaitFor(2*time.Second, 10*time.Millisecond, func() bool {
		return stub.snapshotCalls.Load() >= 1
	}))
}

func TestEngineSyncBucketNothingToDo(t *testing.T) {
	stub := newBackendStub(t)
	cfg := testConfig(t, stub.srv.URL)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Library.Root, "acme"), 0o755))

	e, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	tasks, err := e.SyncBucket("acme")
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, e.Queue().Depth())
}

func TestEngineStartAndClose(t *testing.T) {
	stub := newBackendStub(t)
	stub.setSnapshots(map[string]proto.BucketDocuments{
		"acme": {"a.pdf": {DocID: "d1"}},
	})

	e, err := New(testConfig(t, stub.srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))

	// The initial refresh ran before the channel came up.
	_, ok := e.Store().Snapshot("acme")
	assert.True(t, ok)

	require.NoError(t, testutil.WaitFor(2*time.Second, 10*time.Millisecond, func() bool {
		return e.Live().State() == livechan.StateConnected
	}))

	assert.Error(t, e.Start(ctx), "second start must be rejected")

	require.NoError(t, e.Close())
	assert.Equal(t, livechan.StateClosed, e.Live().State())
	require.NoError(t, e.Close(), "close must be idempotent")
}

func TestEngineSweepLoop(t *testing.T) {
	stub := newBackendStub(t)
	cfg := testConfig(t, stub.srv.URL)
	cfg.State.GracePeriod = "10ms"
	cfg.State.SweepInterval = "25ms"

	e, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Close() }()

	e.Store().ApplyStates(map[string]proto.StateUpdate{
		"doc-done": {
			Bucket:         "acme",
			FileName:       "done.pdf",
			Processing:     proto.Bool(false),
			Queued:         proto.Bool(false),
			CompletionTime: time.Now().UTC().Format(time.RFC3339),
		},
	})

	require.NoError(t, testutil.WaitFor(2*time.Second, 20*time.Millisecond, func() bool {
		_, ok := e.Store().Record("doc-done")
		return !ok
	}), "completed record should be swept after the grace period")
}

func TestEngineWatcherTriggersRefresh(t *testing.T) {
	stub := newBackendStub(t)
	cfg := testConfig(t, stub.srv.URL)
	watch := true
	cfg.Library.Watch = &watch

	bucketDir := filepath.Join(cfg.Library.Root, "acme")
	require.NoError(t, os.MkdirAll(bucketDir, 0o755))

	e, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Close() }()

	base := stub.snapshotCalls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "new.pdf"), []byte("%PDF-1.4"), 0o644))

	require.NoError(t, testutil.WaitFor(5*time.Second, 50*time.Millisecond, func() bool {
		return stub.snapshotCalls.Load() > base
	}), "library change should trigger a refresh")
}

func TestEngineReconnectRequiresLostChannel(t *testing.T) {
	stub := newBackendStub(t)
	e, err := New(testConfig(t, stub.srv.URL))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Error(t, e.Reconnect(), "reconnect applies only to a lost channel")
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	_, err := New(config.Default())
	require.Error(t, err, "backend.url is required")
}
