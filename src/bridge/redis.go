package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/events"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisEnvelope wraps an event with the originating instance ID
// so that a node can skip its own published events.
type redisEnvelope struct {
	InstanceID string          `json:"instance_id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// RedisBridge relays dispatcher events between sync client instances via
// Redis pub/sub.
type RedisBridge struct {
	client     *redis.Client
	prefix     string
	instanceID string
	relay      map[string]bool
	target     DeliveryTarget
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge that uses Redis pub/sub for cross-instance
// event relaying. Relayed events are delivered to target.
func NewRedisBridge(cfg *RedisConfig, target DeliveryTarget, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithCancel(context.Background())

	relay := make(map[string]bool, len(cfg.Relay))
	for _, kind := range cfg.Relay {
		relay[kind] = true
	}

	return &RedisBridge{
		client:     client,
		prefix:     cfg.Prefix,
		instanceID: uuid.New().String(),
		relay:      relay,
		target:     target,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID returns the id stamped on events published by this bridge.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the Redis broadcast channel and begins relaying events.
func (b *RedisBridge) Start() error {
	if err := b.client.Ping(b.ctx).Err(); err != nil {
		return err
	}

	channel := b.prefix + "events"
	sub := b.client.Subscribe(b.ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(b.ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", channel).
		Msg("redis bridge started")
	return nil
}

// Attach registers a wildcard handler on d that publishes every locally
// raised event selected by the relay filter.
func (b *RedisBridge) Attach(d *events.Dispatcher) events.Subscription {
	return d.On(types.Wildcard, func(ev events.Event) error {
		if !b.shouldRelay(ev) || !b.Available() {
			return nil
		}
		return b.Publish(ev)
	})
}

// Publish sends an event to all other instances via Redis.
func (b *RedisBridge) Publish(ev events.Event) error {
	env := redisEnvelope{
		InstanceID: b.instanceID,
		Kind:       ev.Kind,
	}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	channel := b.prefix + "events"
	return b.client.Publish(b.ctx, channel, data).Err()
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// shouldRelay skips events that arrived from a peer, either by origin or
// as EventPeer, and, when a relay filter is configured, kinds outside it.
func (b *RedisBridge) shouldRelay(ev events.Event) bool {
	if ev.Origin != "" || ev.Kind == types.EventPeer {
		return false
	}
	if len(b.relay) == 0 {
		return true
	}
	return b.relay[ev.Kind]
}

// listen reads messages from the Redis subscription and forwards to the
// local dispatcher.
func (b *RedisBridge) listen(sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRedisMessage([]byte(msg.Payload))
		case <-b.ctx.Done():
			return
		}
	}
}

// handleRedisMessage decodes an envelope and delivers non-self events.
func (b *RedisBridge) handleRedisMessage(payload []byte) {
	var env redisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}

	// Skip events that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("kind", env.Kind).
		Msg("relaying event from redis")

	// Local kinds carry only this instance's typed payloads.
	b.target.Deliver(events.Event{
		Kind: types.EventPeer,
		Payload: types.PeerEvent{
			Origin:  env.InstanceID,
			Kind:    env.Kind,
			Payload: env.Payload,
		},
		Origin: env.InstanceID,
	})
}
