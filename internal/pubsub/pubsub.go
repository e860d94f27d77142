// Package pubsub defines the cross-instance Pub/Sub port the scheduler
// publishes on and the hub subscribes to, plus a Redis adapter.
package pubsub

import "context"

// Message is one inbound message off a subscribed channel.
type Message struct {
	Channel string
	Payload []byte
}

// PubSub is the port consumed by the scheduler (publish) and the hub
// (subscribe, for its cross-instance bridge).
type PubSub interface {
	// Publish marshals payload to JSON and publishes it on channel.
	Publish(ctx context.Context, channel string, payload interface{}) error

	// Subscribe returns a channel of incoming messages on the given
	// channels. The returned channel is closed when ctx is canceled or
	// the underlying subscription fails.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)

	Close() error
}
