// Package chainwatcher produces update triggers for the domain listeners. It
// carries two independent sources: a websocket observer that subscribes to
// each network's Tendermint RPC and fires a trigger the moment a contract
// transaction is committed, and a periodic ticker that bounds worst-case
// staleness when the websocket is down or events are missed.
package chainwatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/pkg/resilience/retry"
	"github.com/Illiquidly/marketwatch/internal/triggerbus"

	"github.com/gorilla/websocket"
)

var ErrServiceAlreadyStarted = errors.New("service already started")

// Target is one (network, contract) pair the websocket observer watches, and
// the trigger kind it publishes when the contract executes.
type Target struct {
	Network  string // network name, carried into the trigger message
	Endpoint string // Tendermint RPC websocket URL (ws://host:26657/websocket)
	Contract string // contract address to match on committed transactions
	Kind     string // trigger kind to publish
}

// Watcher observes committed contract transactions over websocket and
// publishes one trigger per observed transaction.
type Watcher interface {
	Start(ctx context.Context) error
	Close()
}

type watcher struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc func()

	targets   []Target
	publisher triggerbus.Publisher
	retry     retry.Retry
}

var _ Watcher = (*watcher)(nil)

// subscribeRequest is the Tendermint RPC subscription call sent once per
// connection.
type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
	Params  struct {
		Query string `json:"query"`
	} `json:"params"`
}

// eventMessage is a Tendermint RPC event frame, reduced to the one field
// that distinguishes an event from the subscription acknowledgement.
type eventMessage struct {
	Result struct {
		Query string `json:"query"`
	} `json:"result"`
}

// Start opens one long-lived subscription per target. Each subscription
// reconnects with backoff until Close or ctx cancellation.
func (w *watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	w.closeFunc = cancel

	for _, target := range w.targets {
		go w.watchTarget(ctx, target)
	}

	w.isStarted = true
	return nil
}

func (w *watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closeFunc != nil {
		w.closeFunc()
	}
	w.isStarted = false
	w.closeFunc = nil
}

// watchTarget keeps one target's subscription alive for the service's
// lifetime. Every connection failure is retried with backoff, and a
// connection that drops after being established starts over.
func (w *watcher) watchTarget(ctx context.Context, target Target) {
	for ctx.Err() == nil {
		err := w.retry.Execute(ctx, func() error {
			return w.observe(ctx, target)
		})
		if ctx.Err() != nil {
			return
		}

		logger.Warn(ctx, "websocket subscription lost, reconnecting",
			"watcher.network", target.Network,
			"watcher.contract", target.Contract,
			"error", err,
		)
	}
}

// observe dials the target's RPC endpoint, subscribes to committed
// transactions of the contract, and publishes one trigger per event until
// the connection breaks.
func (w *watcher) observe(ctx context.Context, target Target) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target.Endpoint, err)
	}

	// Unblock the read loop when the service is closed.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	req := subscribeRequest{JSONRPC: "2.0", Method: "subscribe", ID: 1}
	req.Params.Query = fmt.Sprintf("tm.event='Tx' AND wasm._contract_address='%s'", target.Contract)
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var event eventMessage
		if err := json.Unmarshal(payload, &event); err != nil || event.Result.Query == "" {
			// Subscription acknowledgement or malformed frame.
			continue
		}

		msg := triggerbus.Message{Kind: target.Kind, Network: target.Network}
		if err := w.publisher.Publish(ctx, msg); err != nil {
			logger.Error(ctx, "failed to publish trigger",
				"watcher.network", target.Network,
				"trigger.kind", target.Kind,
				"error", err,
			)
		}
	}
}

type watcherConfig struct {
	retry retry.Retry
}

// WatcherOption configures the websocket watcher.
type WatcherOption func(*watcherConfig)

// WithRetry replaces the reconnect backoff policy.
func WithRetry(r retry.Retry) WatcherOption {
	return func(c *watcherConfig) {
		c.retry = r
	}
}

// NewWatcher creates a websocket observer publishing triggers for the given
// targets.
func NewWatcher(targets []Target, publisher triggerbus.Publisher, opts ...WatcherOption) *watcher {
	cfg := watcherConfig{
		retry: retry.New(retry.WithAttempts(5)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &watcher{
		targets:   targets,
		publisher: publisher,
		retry:     cfg.retry,
	}
}
