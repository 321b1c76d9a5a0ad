package service

import (
	"context"
	"fmt"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/events"
	"github.com/orchestra-mcp/realtime/src/hub"
	"github.com/orchestra-mcp/realtime/src/metrics"
	"github.com/orchestra-mcp/realtime/src/transport"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Service is the consumer-facing API of the sync client. It owns the
// hub, its event dispatcher and its metrics.
type Service struct {
	hub        *hub.Hub
	dispatcher *events.Dispatcher
	metrics    *metrics.Collector
	clock      clock.Clock
	logger     zerolog.Logger
}

// New creates a Service that dials real WebSocket connections as
// described by cfg.
func New(cfg *config.SyncConfig, logger zerolog.Logger) *Service {
	dialer := transport.NewDialer(transport.Options{
		Token:            cfg.Token,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadLimit:        cfg.ReadLimit,
	})
	return NewWithDialer(dialer, hub.OptionsFromConfig(cfg), logger)
}

// NewWithDialer creates a Service over an arbitrary dialer.
func NewWithDialer(dialer types.Dialer, opts hub.Options, logger zerolog.Logger) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	d := events.New(logger)
	m := metrics.New()
	return &Service{
		hub:        hub.New(dialer, d, m, opts, logger),
		dispatcher: d,
		metrics:    m,
		clock:      opts.Clock,
		logger:     logger.With().Str("component", "sync").Logger(),
	}
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

// Dispatcher returns the event dispatcher.
func (s *Service) Dispatcher() *events.Dispatcher { return s.dispatcher }

// Run drives the hub event loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) { s.hub.Run(ctx) }

// Stop halts the hub event loop.
func (s *Service) Stop() { s.hub.Stop() }

// Connect opens endpoint under id. See hub.Hub.Connect.
func (s *Service) Connect(endpoint, id string) (*hub.Connection, error) {
	return s.hub.Connect(endpoint, id)
}

// Disconnect closes the connection with the given id.
func (s *Service) Disconnect(id string) error {
	if !s.hub.Disconnect(id) {
		return fmt.Errorf("disconnect %s: %w", id, types.ErrUnknownConnection)
	}
	return nil
}

// DisconnectAll closes every connection.
func (s *Service) DisconnectAll() { s.hub.DisconnectAll() }

// Send queues a kind/payload message for the next batch flush. An error
// is returned only when payload cannot be encoded; messages for an
// unavailable connection are logged and dropped.
func (s *Service) Send(id, kind string, payload any) error {
	env, err := s.envelope(kind, payload)
	if err != nil {
		return err
	}
	s.hub.Send(id, env)
	return nil
}

// SendImmediate writes a kind/payload message without batching.
func (s *Service) SendImmediate(id, kind string, payload any) error {
	env, err := s.envelope(kind, payload)
	if err != nil {
		return err
	}
	s.hub.SendImmediate(id, env)
	return nil
}

// SendEnvelope sends a prepared envelope and reports whether it was
// accepted.
func (s *Service) SendEnvelope(id string, env types.Envelope, immediate bool) bool {
	if immediate {
		return s.hub.SendImmediate(id, env)
	}
	return s.hub.Send(id, env)
}

func (s *Service) envelope(kind string, payload any) (types.Envelope, error) {
	if kind == "" {
		return types.Envelope{}, types.ErrMissingKind
	}
	env, err := types.NewEnvelope(kind, payload, s.clock.Now())
	if err != nil {
		return types.Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return env, nil
}

// Subscribe asks the backend for channel on connection id.
func (s *Service) Subscribe(id, channel string) error {
	if !s.hub.Subscribe(id, channel) {
		return fmt.Errorf("subscribe %s on %s: %w", channel, id, types.ErrUnknownConnection)
	}
	s.logger.Debug().Str("connection_id", id).Str("channel", channel).Msg("subscribed")
	return nil
}

// Unsubscribe drops channel on connection id.
func (s *Service) Unsubscribe(id, channel string) error {
	if !s.hub.Unsubscribe(id, channel) {
		return fmt.Errorf("channel %s on %s not found", channel, id)
	}
	s.logger.Debug().Str("connection_id", id).Str("channel", channel).Msg("unsubscribed")
	return nil
}

// On registers handler for kind. Use types.Wildcard for every kind.
func (s *Service) On(kind string, handler events.Handler) events.Subscription {
	return s.dispatcher.On(kind, handler)
}

// Off removes a registration made by On.
func (s *Service) Off(sub events.Subscription) bool {
	return s.dispatcher.Off(sub)
}

// Emit publishes a local event to registered handlers.
func (s *Service) Emit(kind string, payload any) {
	s.dispatcher.Emit(kind, payload)
}

// GetMetrics returns a snapshot of the counters.
func (s *Service) GetMetrics() metrics.Snapshot { return s.hub.Metrics() }

// GetConnectionState returns the lifecycle state of id, Idle when the id
// has never been connected.
func (s *Service) GetConnectionState(id string) types.State {
	st, _ := s.hub.State(id)
	return st
}

// GetConnectionInfo returns metadata for a tracked connection.
func (s *Service) GetConnectionInfo(id string) (types.ConnectionInfo, error) {
	info, ok := s.hub.Info(id)
	if !ok {
		return types.ConnectionInfo{}, fmt.Errorf("connection %s: %w", id, types.ErrUnknownConnection)
	}
	return info, nil
}

// Connections returns metadata for every tracked connection.
func (s *Service) Connections() []types.ConnectionInfo { return s.hub.Connections() }
