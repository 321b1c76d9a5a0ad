package bridge

import "github.com/orchestra-mcp/realtime/src/events"

// Bridge defines the interface for cross-instance event relaying.
// Implementations forward locally raised dispatcher events to other sync
// client instances and deliver theirs locally.
type Bridge interface {
	// Publish sends an event to all other instances via the bridge.
	Publish(ev events.Event) error

	// Start begins listening for events from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// DeliveryTarget is implemented by events.Dispatcher to receive relayed
// events.
type DeliveryTarget interface {
	Deliver(ev events.Event)
}
