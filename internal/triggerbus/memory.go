package triggerbus

import (
	"context"
	"sync"

	"github.com/Illiquidly/marketwatch/internal/pkg/x/chflow"
)

const memorySubscriberBufferSize = 16

// memoryBus is an in-process trigger bus used by tests and single-node local
// runs. Production deployments use the redis pub/sub adapter.
type memoryBus struct {
	mu          sync.Mutex
	subscribers []chan Message
}

var (
	_ Publisher  = (*memoryBus)(nil)
	_ Subscriber = (*memoryBus)(nil)
)

// NewMemory creates an in-memory trigger bus.
func NewMemory() *memoryBus {
	return &memoryBus{}
}

func (b *memoryBus) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	subscribers := make([]chan Message, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subscribers {
		// Best effort, matching pub/sub semantics: a subscriber that cannot
		// keep up drops the message rather than blocking the publisher.
		select {
		case sub <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	in := make(chan Message, memorySubscriberBufferSize)
	out := make(chan Message)

	b.mu.Lock()
	b.subscribers = append(b.subscribers, in)
	b.mu.Unlock()

	go func() {
		defer close(out)
		for {
			msg, ok := chflow.Receive(ctx, in)
			if !ok {
				return
			}
			if ok := chflow.Send(ctx, out, msg); !ok {
				return
			}
		}
	}()

	return out, nil
}
