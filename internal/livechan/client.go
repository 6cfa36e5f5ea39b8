// Package livechan maintains the single live subscription to the backend's
// processing event stream, with bounded reconnection and schema-gated decode.
package livechan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docsync/docsync/internal/debounce"
	"github.com/docsync/docsync/internal/metrics"
	"github.com/docsync/docsync/pkg/proto"
)

// ErrClosed is returned when an operation requires a live client but it has
// been closed.
var ErrClosed = errors.New("live channel is closed")

// Options configure the live channel client.
type Options struct {
	// Endpoint is the absolute URL of the event stream.
	Endpoint string

	// AuthToken, when set, is sent as a bearer token on the subscribe request.
	AuthToken string

	// Transport defaults to SSE.
	Transport Transport

	// Backoff bounds the reconnect loop. Zero fields default to
	// base 2s and cap 30s; MaxRetries 0 retries forever.
	Backoff BackoffPolicy

	// SnapshotContexts is the allow-list for index-update events.
	// Events carrying no context always pass.
	SnapshotContexts []string

	// SnapshotDebounce is the trailing-edge window for snapshot deliveries.
	// Defaults to 300ms.
	SnapshotDebounce time.Duration

	// Metrics, when set, receives channel counters and the state gauge.
	Metrics *metrics.Metrics

	// Observers receive state transitions.
	Observers []Observer
}

// Client maintains one persistent subscription to the live event stream.
// Dropped streams reconnect with exponential backoff until the retry budget
// is exhausted, after which only a manual Reconnect resumes delivery.
type Client struct {
	endpoint      string
	authToken     string
	transport     Transport
	backoff       BackoffPolicy
	contexts      map[string]struct{}
	debounceEvery time.Duration
	metrics       *metrics.Metrics

	mu             sync.RWMutex
	state          State
	lastError      error
	lastTransition time.Time
	attempt        int
	running        bool
	closed         bool
	closedChan     chan struct{}
	cancel         context.CancelFunc
	stream         Stream
	snapshotIn     chan map[string]proto.BucketDocuments

	// Observers for state changes
	observers []Observer

	// Callbacks (protected by mu)
	onHello       func(message string)
	onStates      func(states map[string]proto.StateUpdate)
	onProgress    func(ev proto.Envelope)
	onSnapshot    func(data map[string]proto.BucketDocuments)
	onStatus      func(message string)
	onChannelLost func(err error)
}

// New creates a live channel client in the Idle state.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("live channel endpoint required")
	}

	transport := opts.Transport
	if transport == nil {
		transport = &SSETransport{}
	}

	backoff := opts.Backoff
	if backoff.Base <= 0 {
		backoff.Base = 2 * time.Second
	}
	if backoff.Cap <= 0 {
		backoff.Cap = 30 * time.Second
	}

	debounceEvery := opts.SnapshotDebounce
	if debounceEvery <= 0 {
		debounceEvery = 300 * time.Millisecond
	}

	contexts := make(map[string]struct{}, len(opts.SnapshotContexts))
	for _, sc := range opts.SnapshotContexts {
		contexts[sc] = struct{}{}
	}

	return &Client{
		endpoint:      opts.Endpoint,
		authToken:     opts.AuthToken,
		transport:     transport,
		backoff:       backoff,
		contexts:      contexts,
		debounceEvery: debounceEvery,
		metrics:       opts.Metrics,
		observers:     opts.Observers,
		state:         StateIdle,
		closedChan:    make(chan struct{}),
	}, nil
}

// Connect starts the subscription loop. It returns once the loop is running;
// connection progress is reported through observers and handlers.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state != StateIdle {
		return fmt.Errorf("live channel already started (%s)", state)
	}
	return c.start(ctx, "initial subscribe")
}

// Reconnect restarts the subscription loop after the channel was lost.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state != StateLost {
		return fmt.Errorf("live channel is %s, reconnect applies only once it is lost", state)
	}
	return c.start(ctx, "manual reconnect")
}

// start spins up one run cycle: a fresh snapshot debounce pipeline plus the
// dial/read/backoff loop. At most one cycle runs at a time.
func (c *Client) start(parent context.Context, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return errors.New("live channel already running")
	}
	c.running = true
	c.attempt = 0
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.transitionTo(StateConnecting, reason, nil); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		cancel()
		return err
	}

	in := make(chan map[string]proto.BucketDocuments, 1)
	c.mu.Lock()
	c.snapshotIn = in
	c.mu.Unlock()
	out := debounce.New(in, c.debounceEvery).Run(ctx)

	go c.forwardSnapshots(out)
	go func() {
		defer cancel()
		c.run(ctx)
	}()

	return nil
}

// run dials, reads until the stream drops, and schedules reconnects until the
// retry budget is exhausted or the client is closed.
func (c *Client) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		stream, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.stream = stream
			c.attempt = 0
			c.mu.Unlock()

			if terr := c.transitionTo(StateConnected, "subscribed", nil); terr != nil {
				_ = stream.Close()
				return
			}
			log.Info().Str("transport", c.transport.Name()).Msg("live channel connected")

			err = c.readLoop(stream)
			_ = stream.Close()
			c.mu.Lock()
			c.stream = nil
			c.mu.Unlock()
		}

		if c.isClosed() || ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		c.mu.Unlock()

		if c.backoff.Exhausted(attempt) {
			c.lost(err)
			return
		}

		delay := c.backoff.Delay(attempt)
		if terr := c.transitionTo(StateBackoff, fmt.Sprintf("reconnect %d scheduled", attempt), err); terr != nil {
			return
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("live channel dropped, will reconnect")
		if c.metrics != nil {
			c.metrics.Reconnects.Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-time.After(delay):
		}

		if terr := c.transitionTo(StateConnecting, "redialing", nil); terr != nil {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (Stream, error) {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	log.Debug().Str("url", c.endpoint).Str("transport", c.transport.Name()).Msg("connecting to live channel")
	return c.transport.Dial(ctx, c.endpoint, header)
}

// readLoop reads frames from the stream and dispatches them until it fails.
func (c *Client) readLoop(stream Stream) error {
	for {
		data, err := stream.Next()
		if err != nil {
			return err
		}
		c.handleFrame(data)
	}
}

// handleFrame validates, decodes and routes one frame. Any failure drops the
// frame and never tears the subscription down.
func (c *Client) handleFrame(data []byte) {
	if err := validateEnvelope(data); err != nil {
		c.dropFrame("schema", err, data)
		return
	}

	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.dropFrame("decode", err, data)
		return
	}

	if !proto.KnownType(env.Type) {
		c.dropFrame("unknown type "+env.Type, nil, data)
		return
	}

	if c.metrics != nil {
		c.metrics.FramesTotal.WithLabelValues(env.Type).Inc()
	}

	switch env.Type {
	case proto.TypeConnected:
		c.mu.RLock()
		handler := c.onHello
		c.mu.RUnlock()
		if handler != nil {
			handler(env.Message)
		}

	case proto.TypeStatesUpdated:
		c.mu.RLock()
		handler := c.onStates
		c.mu.RUnlock()
		if handler != nil {
			handler(env.States)
		}

	case proto.TypePageStarted, proto.TypePageCompleted:
		c.mu.RLock()
		handler := c.onProgress
		c.mu.RUnlock()
		if handler != nil {
			handler(env)
		}

	case proto.TypeIndexUpdated:
		if !c.allowContext(env.Context) {
			log.Debug().Str("context", env.Context).Msg("snapshot update outside allowed contexts, ignoring")
			return
		}
		c.queueSnapshot(env.Data)

	case proto.TypeIndexingStatus:
		c.mu.RLock()
		handler := c.onStatus
		c.mu.RUnlock()
		if handler != nil {
			handler(env.Message)
		}
	}
}

// allowContext applies the snapshot context allow-list. Events without a
// context always pass; legacy emitters never set one.
func (c *Client) allowContext(eventContext string) bool {
	if eventContext == "" {
		return true
	}
	_, ok := c.contexts[eventContext]
	return ok
}

// queueSnapshot hands the update to the debounce pipeline, replacing any
// pending older update when the pipeline is busy.
func (c *Client) queueSnapshot(data map[string]proto.BucketDocuments) {
	c.mu.RLock()
	in := c.snapshotIn
	c.mu.RUnlock()
	if in == nil {
		return
	}

	select {
	case in <- data:
	default:
		select {
		case <-in:
		default:
		}
		select {
		case in <- data:
		default:
		}
	}
}

// forwardSnapshots delivers debounced snapshot updates to the handler. A nil
// map means the emitter did not inline the new mapping and the consumer
// should query for it.
func (c *Client) forwardSnapshots(out <-chan map[string]proto.BucketDocuments) {
	for data := range out {
		c.mu.RLock()
		handler := c.onSnapshot
		c.mu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (c *Client) dropFrame(reason string, err error, data []byte) {
	if c.metrics != nil {
		c.metrics.FramesDropped.Inc()
	}
	snippet := data
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	log.Warn().Err(err).Str("reason", reason).Str("frame", string(snippet)).Msg("dropping undecodable live frame")
}

// lost parks the client in the Lost state and notifies the handler.
func (c *Client) lost(err error) {
	if terr := c.transitionTo(StateLost, "retry budget exhausted", err); terr != nil {
		return
	}
	log.Error().Err(err).Msg("live channel lost, manual reconnect required")

	c.mu.RLock()
	handler := c.onChannelLost
	c.mu.RUnlock()
	if handler != nil {
		handler(err)
	}
}

// transitionTo attempts to transition to the target state.
// Returns an error if the transition is invalid.
// On success, notifies all observers of the transition.
func (c *Client) transitionTo(target State, reason string, err error) error {
	c.mu.Lock()

	from := c.state
	if !from.CanTransitionTo(target) {
		c.mu.Unlock()
		return NewTransitionError(from, target, "invalid transition")
	}

	now := time.Now()
	c.state = target
	c.lastError = err
	c.lastTransition = now
	attempt := c.attempt

	// Copy observers slice to avoid holding lock during callbacks
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)

	c.mu.Unlock()

	logEvent := log.Debug().
		Str("from", from.String()).
		Str("to", target.String()).
		Str("reason", reason)
	if err != nil {
		logEvent = logEvent.Err(err)
	}
	logEvent.Msg("live channel state transition")

	if c.metrics != nil {
		c.metrics.ChannelState.Set(float64(target))
	}

	transition := Transition{
		From:      from,
		To:        target,
		Attempt:   attempt,
		Timestamp: now,
		Reason:    reason,
		Err:       err,
	}
	for _, o := range observers {
		o.OnTransition(transition)
	}

	return nil
}

// Close tears down the subscription and any scheduled reconnect.
// This is a terminal operation.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closedChan)
	cancel := c.cancel
	c.cancel = nil
	stream := c.stream
	c.stream = nil
	state := c.state
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var streamErr error
	if stream != nil {
		streamErr = stream.Close()
	}

	if !state.IsTerminal() {
		if err := c.transitionTo(StateClosed, "explicit close", streamErr); err != nil {
			log.Debug().Err(err).Msg("error transitioning to closed state")
		}
	}

	return streamErr
}

// State returns the current channel state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the last error that caused a state transition.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// IsConnected returns true if the subscription is receiving events.
func (c *Client) IsConnected() bool {
	return c.State().IsActive()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// AddObserver adds an observer to receive state change notifications.
func (c *Client) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// SetHelloHandler sets a callback for the hello event sent on subscribe.
func (c *Client) SetHelloHandler(handler func(message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHello = handler
}

// SetStatesHandler sets a callback for bulk state updates.
func (c *Client) SetStatesHandler(handler func(states map[string]proto.StateUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStates = handler
}

// SetProgressHandler sets a callback for page progress events.
func (c *Client) SetProgressHandler(handler func(ev proto.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = handler
}

// SetSnapshotHandler sets a callback for debounced, context-filtered
// snapshot updates.
func (c *Client) SetSnapshotHandler(handler func(data map[string]proto.BucketDocuments)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSnapshot = handler
}

// SetStatusHandler sets a callback for free-text indexing status messages.
func (c *Client) SetStatusHandler(handler func(message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = handler
}

// SetChannelLostHandler sets a callback fired once when the retry budget is
// exhausted.
func (c *Client) SetChannelLostHandler(handler func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChannelLost = handler
}
