package redis

import (
	"context"
	"encoding/json"

	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/pkg/x/chflow"
	"github.com/Illiquidly/marketwatch/internal/triggerbus"

	"github.com/redis/go-redis/v9"
)

// triggerBus carries trigger messages over one Redis pub/sub channel.
// Delivery follows Redis pub/sub semantics: at-least-once for connected
// subscribers, nothing for anyone else.
type triggerBus struct {
	conn    *redis.Client
	channel string
}

// Compile-time assertions to ensure triggerBus implements both bus sides.
var (
	_ triggerbus.Publisher  = (*triggerBus)(nil)
	_ triggerbus.Subscriber = (*triggerBus)(nil)
)

// TriggerBus returns a publisher/subscriber bound to the given pub/sub
// channel on this client's connection.
func (c *client) TriggerBus(channel string) *triggerBus {
	return &triggerBus{
		conn:    c.conn,
		channel: channel,
	}
}

// Publish marshals the trigger message and sends it on the channel.
func (b *triggerBus) Publish(ctx context.Context, msg triggerbus.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.conn.Publish(ctx, b.channel, payload).Err()
}

// Subscribe opens a pub/sub subscription and forwards decoded messages until
// ctx is canceled. Messages that fail to decode are logged and dropped.
func (b *triggerBus) Subscribe(ctx context.Context) (<-chan triggerbus.Message, error) {
	sub := b.conn.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan triggerbus.Message)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}

				var msg triggerbus.Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					logger.Warn(ctx, "dropping malformed trigger message",
						"trigger.channel", b.channel,
						"trigger.payload", raw.Payload,
					)
					continue
				}

				if ok := chflow.Send(ctx, out, msg); !ok {
					return
				}
			}
		}
	}()

	return out, nil
}
