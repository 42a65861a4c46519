// Package trades reconciles the P2P trade contract's state into the cache
// and derives per-user notifications from trade activity. A Trade is a
// published offer of assets; a CounterTrade is another user's response offer
// underneath it. Accepting one counter trade supersedes all of its siblings.
package trades

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DomainName keys ledger entries, notification tables and logs.
const DomainName = "trade"

// Contract execute-message actions observed in wasm events.
const (
	ActionCreateTrade         = "create_trade"
	ActionSuggestCounterTrade = "suggest_counter_trade"
	ActionConfirmCounterTrade = "confirm_counter_trade"
	ActionAcceptTrade         = "accept_trade"
	ActionRefuseCounterTrade  = "refuse_counter_trade"
	ActionReviewCounterTrade  = "review_counter_trade"
	ActionCancelTrade         = "cancel_trade"
)

// Notification types derived from trade actions.
const (
	NotificationNewCounterTrade       = "new_counter_trade"
	NotificationCounterTradeAccepted  = "counter_trade_accepted"
	NotificationCounterTradeCancelled = "counter_trade_cancelled"
	NotificationCounterTradeRefused   = "counter_trade_refused"
	NotificationCounterTradeReviewed  = "counter_trade_reviewed"
	NotificationTradeCancelled        = "trade_cancelled"
)

// Historical attribute key aliases: older contract versions emitted the id
// without the "_id" suffix.
var (
	tradeIDKeys   = []string{"trade_id", "trade"}
	counterIDKeys = []string{"counter_id", "counter"}
)

// ErrNotCached is returned by Storage when the requested row does not exist.
var ErrNotCached = errors.New("trade entity not cached")

// Trade is one authoritative snapshot of a trade's on-chain state, keyed by
// (network, trade id). Counter trades live in their own rows so a trade
// upsert never touches them.
type Trade struct {
	Network          string
	TradeID          uint64
	Owner            string
	State            string
	WhitelistedUsers []string
	AssociatedAssets json.RawMessage
	LastCounterID    *uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CounterTrade is a response offer under a trade, keyed by
// (network, trade id, counter id).
type CounterTrade struct {
	Network          string
	TradeID          uint64
	CounterID        uint64
	Owner            string
	State            string
	AssociatedAssets json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Storage persists trades and counter trades.
type Storage interface {
	// GetTrade returns the cached trade, or ErrNotCached.
	GetTrade(ctx context.Context, network string, tradeID uint64) (Trade, error)

	// UpsertTrade inserts or replaces the trade row by its natural key,
	// preserving the surrogate id of an existing row.
	UpsertTrade(ctx context.Context, trade Trade) error

	// GetCounterTrade returns the cached counter trade, or ErrNotCached.
	GetCounterTrade(ctx context.Context, network string, tradeID, counterID uint64) (CounterTrade, error)

	// UpsertCounterTrade inserts or replaces the counter trade row.
	UpsertCounterTrade(ctx context.Context, counter CounterTrade) error

	// ListCounterTrades returns every cached counter trade under the given
	// trade, ordered by counter id.
	ListCounterTrades(ctx context.Context, network string, tradeID uint64) ([]CounterTrade, error)
}

// previewOf extracts the first associated asset as a notification preview.
// It returns nil when the asset list is absent or empty.
func previewOf(assets json.RawMessage) json.RawMessage {
	if len(assets) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(assets, &items); err != nil || len(items) == 0 {
		return nil
	}
	return items[0]
}
