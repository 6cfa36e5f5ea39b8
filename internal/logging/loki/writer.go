// Package loki ships zerolog output to a Grafana Loki instance.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls batching and labeling for the Loki push writer.
type Config struct {
	URL           string            // base URL of the Loki instance, e.g. "http://localhost:3100"
	Labels        map[string]string // static stream labels attached to every entry
	BatchSize     int               // entries buffered before a push (default: 100)
	FlushInterval time.Duration     // max delay before buffered entries ship (default: 5s)
	Timeout       time.Duration     // per-push HTTP timeout (default: 10s)
}

// Writer buffers log lines and pushes them to Loki in batches. It implements
// io.Writer so it can sit inside a zerolog.MultiLevelWriter; Write never
// returns an error, so an unreachable Loki cannot take logging down with it.
type Writer struct {
	url    string
	labels map[string]string
	client *http.Client

	mu        sync.Mutex
	buffer    []entry
	batchSize int

	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	flushInterval time.Duration

	flushing     int32         // guards against overlapping flushes
	flushTrigger chan struct{} // capacity 1, collapses repeated wake signals

	flushErrors uint64
}

type entry struct {
	ts   time.Time
	line string
}

// pushRequest mirrors the payload of Loki's HTTP push API.
type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewWriter builds a Writer. Zero config fields fall back to defaults, and a
// "job" label of "docsync" is added unless the caller set one.
func NewWriter(cfg Config) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Labels == nil {
		cfg.Labels = make(map[string]string)
	}
	if _, ok := cfg.Labels["job"]; !ok {
		cfg.Labels["job"] = "docsync"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		url:           cfg.URL,
		labels:        cfg.Labels,
		client:        &http.Client{Timeout: cfg.Timeout},
		buffer:        make([]entry, 0, cfg.BatchSize),
		batchSize:     cfg.BatchSize,
		ctx:           ctx,
		cancel:        cancel,
		flushInterval: cfg.FlushInterval,
		flushTrigger:  make(chan struct{}, 1),
	}
}

// Write buffers one log line. A full buffer wakes the background flusher;
// the write itself never blocks on Loki.
func (w *Writer) Write(p []byte) (int, error) {
	// zerolog reuses p after Write returns, so copy before buffering.
	line := string(bytes.TrimSpace(p))
	if line == "" {
		return len(p), nil
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, entry{ts: time.Now(), line: line})
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushTrigger <- struct{}{}:
		default:
			// a flush is already pending
		}
	}

	return len(p), nil
}

// Start launches the background flush loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushTrigger:
				w.flush()
			}
		}
	}()
}

// Stop halts the flush loop and ships whatever is still buffered.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
	w.flush()
}

func (w *Writer) flush() {
	if !atomic.CompareAndSwapInt32(&w.flushing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&w.flushing, 0)

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]entry, 0, w.batchSize)
	w.mu.Unlock()

	// Loki wants nanosecond timestamps as decimal strings.
	values := make([][]string, len(batch))
	for i, e := range batch {
		values[i] = []string{strconv.FormatInt(e.ts.UnixNano(), 10), e.line}
	}

	payload := pushRequest{Streams: []stream{{Stream: w.labels, Values: values}}}
	data, err := json.Marshal(payload)
	if err != nil {
		w.reportError("marshal payload: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/loki/api/v1/push", bytes.NewReader(data))
	if err != nil {
		w.reportError("build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.reportError("push failed: %v", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		w.reportError("push rejected with status %d", resp.StatusCode)
	}
}

// reportError counts a flush failure and echoes the first few to stderr.
// Reporting through zerolog here would loop straight back into this writer.
func (w *Writer) reportError(format string, args ...any) {
	if atomic.AddUint64(&w.flushErrors, 1) <= 3 {
		fmt.Fprintf(os.Stderr, "loki: "+format+"\n", args...)
	}
}

// FlushErrors reports how many pushes have failed since startup.
func (w *Writer) FlushErrors() uint64 {
	return atomic.LoadUint64(&w.flushErrors)
}
