package hub

import (
	"context"
	"sync"
	"time"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/events"
	"github.com/orchestra-mcp/realtime/src/metrics"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Options tunes the hub's timers and buffers.
type Options struct {
	BaseURL              string
	Backoff              Backoff
	HeartbeatInterval    time.Duration
	PongTimeoutIntervals int
	BatchInterval        time.Duration
	SendBufferSize       int
	Clock                clock.Clock
}

// OptionsFromConfig maps a SyncConfig onto hub Options using the real
// clock.
func OptionsFromConfig(cfg *config.SyncConfig) Options {
	return Options{
		BaseURL: cfg.BaseURL,
		Backoff: Backoff{
			Base:        cfg.ReconnectBaseDelay,
			Max:         cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.ReconnectMaxAttempts,
		},
		HeartbeatInterval:    cfg.HeartbeatInterval,
		PongTimeoutIntervals: cfg.PongTimeoutIntervals,
		BatchInterval:        cfg.BatchInterval,
		SendBufferSize:       cfg.SendBufferSize,
		Clock:                clock.Real(),
	}
}

// applyDefaults fills every non-positive field from config.DefaultConfig,
// so a zero MaxAttempts means the default ceiling rather than no retries.
func (o *Options) applyDefaults() {
	d := config.DefaultConfig()
	if o.BaseURL == "" {
		o.BaseURL = d.BaseURL
	}
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = d.ReconnectBaseDelay
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = d.ReconnectMaxDelay
	}
	if o.Backoff.MaxAttempts <= 0 {
		o.Backoff.MaxAttempts = d.ReconnectMaxAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.PongTimeoutIntervals <= 0 {
		o.PongTimeoutIntervals = d.PongTimeoutIntervals
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = d.BatchInterval
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = d.SendBufferSize
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

// Hub is the connection registry. It owns every tracked connection and
// runs a single event loop on which transport callbacks, timers and event
// emission are serialized. Public methods only take h.mu briefly and queue
// work, so dispatcher handlers may call back into the hub.
type Hub struct {
	opts       Options
	dialer     types.Dialer
	dispatcher *events.Dispatcher
	metrics    *metrics.Collector
	clock      clock.Clock
	logger     zerolog.Logger

	mu         sync.Mutex
	conns      map[string]*Connection
	retired    map[string]types.State // last state of explicitly disconnected ids
	queue      outboundQueue
	batchTimer clock.Timer

	tasksMu sync.Mutex
	tasks   []func()
	wake    chan struct{}

	ctx    context.Context // parent of every dial
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a Hub. Call Run to start its event loop.
func New(dialer types.Dialer, dispatcher *events.Dispatcher, collector *metrics.Collector, opts Options, logger zerolog.Logger) *Hub {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:       opts,
		dialer:     dialer,
		dispatcher: dispatcher,
		metrics:    collector,
		clock:      opts.Clock,
		logger:     logger.With().Str("component", "hub").Logger(),
		conns:      make(map[string]*Connection),
		retired:    make(map[string]types.State),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.batchTimer = h.clock.AfterFunc(opts.BatchInterval, func() { h.post(h.flush) })
	return h
}

// Run executes the hub event loop until ctx is cancelled or Stop is
// called. Every tracked connection is closed on return.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-h.wake:
			h.drain()
		}
	}
}

// Stop halts the hub event loop.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// post queues fn for execution on the event loop. It never blocks.
func (h *Hub) post(fn func()) {
	h.tasksMu.Lock()
	h.tasks = append(h.tasks, fn)
	h.tasksMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hub) drain() {
	for {
		h.tasksMu.Lock()
		tasks := h.tasks
		h.tasks = nil
		h.tasksMu.Unlock()

		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			task()
		}
	}
}

// emit publishes an event. Only called from the event loop.
func (h *Hub) emit(kind string, payload any) {
	h.dispatcher.Emit(kind, payload)
}

// Deliver publishes an event received from outside the process, such as a
// bridge peer, on the hub loop so handlers stay serialized.
func (h *Hub) Deliver(ev events.Event) {
	h.post(func() { h.dispatcher.Deliver(ev) })
}

func (h *Hub) shutdown() {
	h.cancel()

	h.mu.Lock()
	if h.batchTimer != nil {
		h.batchTimer.Stop()
	}
	var closing []types.Conn
	for id, c := range h.conns {
		c.gen++
		c.stopReconnectLocked()
		if conn := c.detachLocked(); conn != nil {
			closing = append(closing, conn)
			h.metrics.ConnectionClosed()
		}
		c.state = types.StateClosed
		h.retired[id] = types.StateClosed
		delete(h.conns, id)
	}
	h.mu.Unlock()

	for _, conn := range closing {
		conn.Close()
	}
	h.logger.Info().Int("closed", len(closing)).Msg("hub stopped")
}
