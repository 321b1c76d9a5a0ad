package providers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/bridge"
	"github.com/orchestra-mcp/realtime/src/events"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/rs/zerolog"
)

// SyncProvider hosts a sync Service inside a daemon: it runs the hub
// loop, opens the configured connections, relays events over Redis when
// configured and serves the HTTP control routes.
type SyncProvider struct {
	active     bool
	cfg        *config.DaemonConfig
	logger     zerolog.Logger
	instanceID string
	service    *service.Service
	bridge     bridge.Bridge
	relay      events.Subscription
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSyncProvider creates a provider for cfg. When svc is nil a Service
// dialing real WebSocket connections is built from cfg.Sync.
func NewSyncProvider(cfg *config.DaemonConfig, svc *service.Service, logger zerolog.Logger) *SyncProvider {
	if svc == nil {
		svc = service.New(&cfg.Sync, logger)
	}
	return &SyncProvider{
		cfg:     cfg,
		logger:  logger.With().Str("component", "provider").Logger(),
		service: svc,
	}
}

func (p *SyncProvider) ID() string      { return "orchestra/sync" }
func (p *SyncProvider) Name() string    { return "Realtime Sync" }
func (p *SyncProvider) Version() string { return "0.1.0" }
func (p *SyncProvider) IsActive() bool  { return p.active }

// Service exposes the sync service.
func (p *SyncProvider) Service() *service.Service { return p.service }

// InstanceID identifies this daemon among relay peers.
func (p *SyncProvider) InstanceID() string { return p.instanceID }

// Activate starts the hub loop, the optional Redis relay and the
// configured connections.
func (p *SyncProvider) Activate() error {
	if p.active {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		p.service.Run(ctx)
		close(p.done)
	}()

	p.initBridge()

	for _, spec := range p.cfg.Connections {
		conn, err := p.service.Connect(spec.Endpoint, spec.ID)
		if err != nil {
			p.Deactivate()
			return fmt.Errorf("open %s: %w", spec.Endpoint, err)
		}
		for _, ch := range spec.Channels {
			if err := p.service.Subscribe(conn.ID(), ch); err != nil {
				p.Deactivate()
				return err
			}
		}
	}

	p.active = true
	p.logger.Info().
		Str("provider", p.ID()).
		Int("connections", len(p.cfg.Connections)).
		Msg("sync provider activated")
	return nil
}

// initBridge tries to start the Redis relay. If Redis is not reachable
// the provider runs standalone.
func (p *SyncProvider) initBridge() {
	if p.cfg.Redis == nil {
		p.instanceID = uuid.New().String()
		return
	}
	cfg := bridge.ApplyEnv(p.cfg.Redis)
	rb := bridge.NewRedisBridge(cfg, p.service.Hub(), p.logger)
	p.instanceID = rb.InstanceID()

	if err := rb.Start(); err != nil {
		p.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return
	}

	p.bridge = rb
	p.relay = rb.Attach(p.service.Dispatcher())
	p.logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
}

// Deactivate closes every connection, stops the relay and halts the hub
// loop.
func (p *SyncProvider) Deactivate() error {
	if p.bridge != nil {
		p.service.Off(p.relay)
		if err := p.bridge.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("bridge stop error")
		}
		p.bridge = nil
	}
	if p.cancel != nil {
		p.service.DisconnectAll()
		p.cancel()
		<-p.done
		p.cancel = nil
	}
	p.active = false
	return nil
}
