// Package engine wires the sync components together and owns their
// background loops: the live subscription, the grace-period sweep, the
// optional periodic refresh and the library watcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/docsync/docsync/internal/backend"
	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/dispatch"
	"github.com/docsync/docsync/internal/docstate"
	"github.com/docsync/docsync/internal/livechan"
	"github.com/docsync/docsync/internal/localfiles"
	"github.com/docsync/docsync/internal/metrics"
	"github.com/docsync/docsync/internal/uploader"
	"github.com/docsync/docsync/pkg/proto"
)

// collectEvery is the gauge sampling cadence.
const collectEvery = 5 * time.Second

// Engine is the composition point for the sync components. The CLI and the
// service wrapper only ever talk to an Engine.
type Engine struct {
	cfg     *config.Config
	libRoot string

	client *backend.Client
	store  *docstate.Store
	lister *localfiles.Lister
	calc   *docstate.Calculator
	queue  *uploader.Queue
	live   *livechan.Client
	coord  *dispatch.Coordinator
	meter  *metrics.Metrics

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	watcher *localfiles.Watcher

	closeOnce sync.Once
}

// timeoutSink bounds each upload with the configured per-file timeout.
type timeoutSink struct {
	inner   uploader.Sink
	timeout time.Duration
}

func (s timeoutSink) Upload(ctx context.Context, spec uploader.Spec, progress func(percent int)) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.Upload(ctx, spec, progress)
}

// New assembles an engine from configuration. Nothing dials out until
// Start or Refresh is called.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	meter := metrics.Init(nil)

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.AuthToken,
		backend.WithTimeout(config.Duration(cfg.Backend.Timeout, 30*time.Second)))

	libRoot, err := filepath.Abs(cfg.Library.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve library root: %w", err)
	}
	lister := localfiles.NewLister(osfs.New(libRoot), cfg.Library.Extensions)

	store := docstate.New(config.Duration(cfg.State.GracePeriod, 30*time.Second))
	calc := docstate.NewCalculator(store, lister)

	sinkOpts := []backend.SinkOption{backend.WithMetrics(meter)}
	if n := cfg.Upload.MaxFileSize.Bytes(); n > 0 {
		sinkOpts = append(sinkOpts, backend.WithMaxFileSize(n))
	}
	// Specs carry absolute paths; the CLI enqueues documents from outside
	// the library, so the sink reads the whole filesystem.
	var sink uploader.Sink = backend.NewSink(client, osfs.New("/"), sinkOpts...)
	if d := config.Duration(cfg.Upload.Timeout, 10*time.Minute); d > 0 {
		sink = timeoutSink{inner: sink, timeout: d}
	}
	queue := uploader.New(sink, uploader.WithMetrics(meter))

	coord := dispatch.New(store, calc, client, dispatch.WithMetrics(meter))

	transport, err := livechan.TransportFor(cfg.Live.Transport)
	if err != nil {
		return nil, err
	}
	live, err := livechan.New(livechan.Options{
		Endpoint:  client.EventsURL(cfg.Live.Path),
		AuthToken: cfg.Backend.AuthToken,
		Transport: transport,
		Backoff: livechan.BackoffPolicy{
			Base:       config.Duration(cfg.Live.Reconnect.Base, 2*time.Second),
			Cap:        config.Duration(cfg.Live.Reconnect.Cap, 30*time.Second),
			MaxRetries: cfg.Live.Reconnect.MaxRetries,
		},
		SnapshotContexts: cfg.Live.SnapshotContexts,
		SnapshotDebounce: config.Duration(cfg.Live.SnapshotDebounce, 300*time.Millisecond),
		Metrics:          meter,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		libRoot: libRoot,
		client:  client,
		store:   store,
		lister:  lister,
		calc:    calc,
		queue:   queue,
		live:    live,
		coord:   coord,
		meter:   meter,
	}
	e.wireHandlers()
	return e, nil
}

// wireHandlers routes live events and queue completions into the store.
func (e *Engine) wireHandlers() {
	e.live.SetHelloHandler(func(message string) {
		log.Info().Str("message", message).Msg("live channel subscribed")
	})
	// Events pushed while the stream was down are gone; a resubscribe
	// needs a snapshot query to close the gap.
	var everConnected bool
	e.live.AddObserver(livechan.ObserverFunc(func(t livechan.Transition) {
		if t.To != livechan.StateConnected {
			return
		}
		if everConnected {
			go e.refresh("live channel resubscribed")
			return
		}
		everConnected = true
	}))
	e.live.SetStatesHandler(e.store.ApplyStates)
	e.live.SetProgressHandler(e.store.ApplyProgress)
	e.live.SetSnapshotHandler(func(data map[string]proto.BucketDocuments) {
		if data == nil {
			// The emitter did not inline the new mapping; query for it.
			e.refresh("index updated")
			return
		}
		for bucket, docs := range data {
			e.store.ApplySnapshot(bucket, docs)
		}
	})
	e.live.SetStatusHandler(func(message string) {
		log.Info().Str("message", message).Msg("indexing status")
	})
	e.live.SetChannelLostHandler(func(err error) {
		log.Error().Err(err).Msg("live updates stopped, refresh manually or reconnect")
	})
	e.queue.SetOnDrained(func() {
		e.refresh("upload queue drained")
	})
}

// Start connects the live channel and launches the background loops. The
// context bounds the engine's lifetime; cancelling it is equivalent to
// Close.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	e.group = group
	e.mu.Unlock()

	if err := e.Refresh(runCtx); err != nil {
		log.Warn().Err(err).Msg("initial refresh failed, starting with an empty view")
	}

	if err := e.live.Connect(runCtx); err != nil {
		cancel()
		return fmt.Errorf("live channel: %w", err)
	}

	group.Go(func() error {
		e.sweepLoop(groupCtx)
		return nil
	})

	if every := config.Duration(e.cfg.State.RefreshInterval, 0); every > 0 {
		group.Go(func() error {
			e.refreshLoop(groupCtx, every)
			return nil
		})
	}

	collector := metrics.NewCollector(e.meter, e.store, e.queue)
	e.store.SetOnChange(collector.Collect)
	group.Go(func() error {
		collector.Run(groupCtx, collectEvery)
		return nil
	})

	if e.cfg.Library.WatchEnabled() {
		watcher, err := localfiles.NewWatcher(e.libRoot, 0)
		if err != nil {
			log.Warn().Err(err).Str("root", e.libRoot).
				Msg("library watcher unavailable, continuing without it")
		} else {
			e.mu.Lock()
			e.watcher = watcher
			e.mu.Unlock()
			changes := watcher.Start(runCtx)
			group.Go(func() error {
				e.watchLoop(groupCtx, changes)
				return nil
			})
		}
	}

	log.Info().Str("backend", e.client.BaseURL()).Str("library", e.libRoot).
		Msg("sync engine started")
	return nil
}

// Refresh replaces every bucket snapshot with the backend's current index
// and rehydrates processing records. It is the manual recovery affordance
// once the live channel is lost, and runs automatically after upload
// drains and on library changes.
func (e *Engine) Refresh(ctx context.Context) error {
	snapshots, err := e.client.ListIndexedDocuments(ctx)
	if err != nil {
		return fmt.Errorf("snapshot query: %w", err)
	}
	e.store.ReplaceSnapshots(snapshots)

	states, err := e.client.ProcessingStates(ctx)
	if err != nil {
		return fmt.Errorf("processing states: %w", err)
	}
	e.store.ApplyStates(states)

	e.meter.SnapshotRefreshes.Inc()
	log.Debug().Int("buckets", len(snapshots)).Int("states", len(states)).
		Msg("state refreshed from backend")
	return nil
}

// refresh is the best-effort Refresh used by event handlers that cannot
// propagate errors.
func (e *Engine) refresh(trigger string) {
	ctx, cancel := context.WithTimeout(e.runContext(), 30*time.Second)
	defer cancel()
	if err := e.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("trigger", trigger).Msg("refresh failed")
	}
}

func (e *Engine) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// Reconnect restarts the live channel after it was lost.
func (e *Engine) Reconnect() error {
	return e.live.Reconnect(e.runContext())
}

// SyncBucket enqueues every unsynced document of one bucket and returns
// the created tasks in arrival order.
func (e *Engine) SyncBucket(bucket string) ([]uploader.Task, error) {
	files, err := e.calc.UnsyncedFiles(bucket)
	if err != nil {
		return nil, fmt.Errorf("list unsynced files: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}
	paths := make([]string, len(files))
	for i, name := range files {
		paths[i] = e.lister.Path(bucket, name)
	}
	return e.queue.Enqueue(bucket, paths), nil
}

// SyncAll enqueues unsynced documents across every bucket and returns the
// created tasks per bucket.
func (e *Engine) SyncAll() (map[string][]uploader.Task, error) {
	buckets, err := e.lister.Buckets()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]uploader.Task)
	for _, bucket := range buckets {
		tasks, err := e.SyncBucket(bucket)
		if err != nil {
			return out, err
		}
		if len(tasks) > 0 {
			out[bucket] = tasks
		}
	}
	return out, nil
}

// sweepLoop drops completed records once the grace period has passed.
func (e *Engine) sweepLoop(ctx context.Context) {
	every := config.Duration(e.cfg.State.SweepInterval, 10*time.Second)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.store.Sweep(); n > 0 {
				e.meter.SweptRecords.Add(float64(n))
				log.Debug().Int("records", n).Msg("swept completed records")
			}
		}
	}
}

func (e *Engine) refreshLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("periodic refresh failed")
			}
		}
	}
}

// watchLoop refreshes after debounced library changes so sync status
// reflects new and removed documents promptly.
func (e *Engine) watchLoop(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			log.Debug().Msg("library changed")
			if err := e.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("refresh after library change failed")
			}
		}
	}
}

// Close tears down the live channel, the upload queue, the watcher and all
// loops. It is idempotent and safe to call before Start.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		group := e.group
		watcher := e.watcher
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		_ = e.live.Close()
		e.queue.Close()
		if watcher != nil {
			_ = watcher.Close()
		}
		if group != nil {
			_ = group.Wait()
		}
		log.Info().Msg("sync engine stopped")
	})
	return nil
}

// Store exposes the document state store.
func (e *Engine) Store() *docstate.Store { return e.store }

// Status exposes the sync status calculator.
func (e *Engine) Status() *docstate.Calculator { return e.calc }

// Queue exposes the upload queue.
func (e *Engine) Queue() *uploader.Queue { return e.queue }

// Dispatcher exposes the batch dispatch coordinator.
func (e *Engine) Dispatcher() *dispatch.Coordinator { return e.coord }

// Live exposes the live channel client.
func (e *Engine) Live() *livechan.Client { return e.live }

// Library exposes the local library lister.
func (e *Engine) Library() *localfiles.Lister { return e.lister }
