package pubsub

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryPubSub is an in-process PubSub used by the hub and scheduler
// test suites in place of a real Redis connection; it fans out
// published payloads to every subscriber currently listening on a
// channel, synchronously, with no cross-instance semantics.
type MemoryPubSub struct {
	mu   sync.Mutex
	subs map[string][]chan Message
}

// NewMemory builds an empty MemoryPubSub.
func NewMemory() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string][]chan Message)}
}

func (m *MemoryPubSub) Publish(ctx context.Context, channel string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[channel] {
		select {
		case ch <- Message{Channel: channel, Payload: body}:
		default:
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	out := make(chan Message, 64)
	m.mu.Lock()
	for _, ch := range channels {
		m.subs[ch] = append(m.subs[ch], out)
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (m *MemoryPubSub) Close() error { return nil }
