package chainwatcher

import (
	"context"
	"sync"
	"time"

	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/triggerbus"
)

// defaultTickInterval bounds how stale the cache can get when no websocket
// event arrives.
const defaultTickInterval = 15 * time.Second

// Pulse is one (trigger kind, network) pair the ticker publishes every
// interval.
type Pulse struct {
	Kind    string
	Network string
}

// Ticker periodically publishes every configured pulse.
type Ticker interface {
	Start(ctx context.Context) error
	Close()
}

type ticker struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc func()

	pulses    []Pulse
	publisher triggerbus.Publisher
	interval  time.Duration
}

var _ Ticker = (*ticker)(nil)

func (t *ticker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	t.closeFunc = cancel

	go t.run(ctx)

	t.isStarted = true
	return nil
}

func (t *ticker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closeFunc != nil {
		t.closeFunc()
	}
	t.isStarted = false
	t.closeFunc = nil
}

func (t *ticker) run(ctx context.Context) {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.publishAll(ctx)
		}
	}
}

func (t *ticker) publishAll(ctx context.Context) {
	for _, pulse := range t.pulses {
		msg := triggerbus.Message{Kind: pulse.Kind, Network: pulse.Network}
		if err := t.publisher.Publish(ctx, msg); err != nil {
			logger.Error(ctx, "failed to publish periodic trigger",
				"trigger.kind", pulse.Kind,
				"trigger.network", pulse.Network,
				"error", err,
			)
		}
	}
}

type tickerConfig struct {
	interval time.Duration
}

// TickerOption configures the periodic trigger publisher.
type TickerOption func(*tickerConfig)

// WithTickInterval replaces the default 15s publish interval.
func WithTickInterval(d time.Duration) TickerOption {
	return func(c *tickerConfig) {
		c.interval = d
	}
}

// NewTicker creates a periodic publisher for the given pulses.
func NewTicker(pulses []Pulse, publisher triggerbus.Publisher, opts ...TickerOption) *ticker {
	cfg := tickerConfig{
		interval: defaultTickInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &ticker{
		pulses:    pulses,
		publisher: publisher,
		interval:  cfg.interval,
	}
}
