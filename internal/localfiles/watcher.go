package localfiles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/docsync/docsync/internal/debounce"
)

const defaultWatchWindow = 500 * time.Millisecond

// Watcher emits a coalesced refresh signal when the library tree changes.
// It watches the root and every bucket directory; bucket directories
// created later are added to the watch set as they appear.
type Watcher struct {
	root     string
	interval time.Duration
	fw       *fsnotify.Watcher
	raw      chan struct{}

	closeOnce sync.Once
}

// NewWatcher watches the library rooted at root, coalescing change bursts
// within interval (defaults to 500ms when zero).
func NewWatcher(root string, interval time.Duration) (*Watcher, error) {
	if interval <= 0 {
		interval = defaultWatchWindow
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	w := &Watcher{
		root:     root,
		interval: interval,
		fw:       fw,
		raw:      make(chan struct{}, 1),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			w.watchBucket(filepath.Join(root, e.Name()))
		}
	}

	return w, nil
}

// Start runs the watcher until ctx is cancelled or Close is called and
// returns the debounced refresh channel. The channel closes on teardown.
func (w *Watcher) Start(ctx context.Context) <-chan struct{} {
	out := debounce.New(w.raw, w.interval).Run(ctx)
	go w.loop(ctx)
	return out
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.raw)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("root", w.root).Msg("library watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.watchBucket(ev.Name)
		}
	}

	select {
	case w.raw <- struct{}{}:
	default:
	}
}

func (w *Watcher) watchBucket(path string) {
	if err := w.fw.Add(path); err != nil {
		log.Warn().Err(err).Str("dir", path).Msg("failed to watch bucket directory")
		return
	}
	log.Debug().Str("dir", path).Msg("watching bucket directory")
}

// Close stops the watcher. Safe to call more than once; pending signals
// are flushed before the refresh channel closes.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fw.Close()
	})
	return err
}
