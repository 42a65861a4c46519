package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Illiquidly/marketwatch/internal/txevents"
)

// ErrNotFound indicates that the requested contract state could not be
// resolved on-chain, either because the entity does not exist (anymore) or
// because the query reached a node that has not caught up yet. Reconcilers
// surface it untouched so callers can skip a single identifier without
// aborting the surrounding page.
var ErrNotFound = errors.New("contract state not found")

// ErrUnknownNetwork is returned when a query names a network the upstream
// client has no endpoint for.
var ErrUnknownNetwork = errors.New("unknown network")

// TxResponse is one transaction result as returned by the LCD transaction
// search endpoint, reduced to the fields the reconciliation pipeline needs.
type TxResponse struct {
	TxHash    string                `json:"txhash"`
	Height    int64                 `json:"height,string"`
	Code      uint32                `json:"code"`
	Timestamp time.Time             `json:"timestamp"`
	Logs      []txevents.MessageLog `json:"logs"`
}

// TxPage is one page of a transaction search, along with the upstream's
// total corpus size for the active filter.
type TxPage struct {
	Txs   []TxResponse
	Total uint64
}

// Upstream is the LCD-side port of the gateway: raw contract-state queries
// and transaction searches against a full node. Implementations must not
// retry on their own; retry policy belongs to callers.
type Upstream interface {
	// SmartContractQuery executes a CosmWasm smart query against the given
	// contract and returns the raw JSON under the response's "data" field.
	//
	// It must return ErrNotFound (possibly wrapped) when the contract
	// reports the queried entity as missing, and ErrUnknownNetwork when no
	// endpoint is configured for the network.
	SmartContractQuery(ctx context.Context, network, contract string, query json.RawMessage) (json.RawMessage, error)

	// TxSearch returns one page of transactions matching the given event
	// filter (e.g. "wasm._contract_address='terra1…'"), ordered ascending
	// and stable for a fixed filter, together with the filter's total count.
	TxSearch(ctx context.Context, network, filter string, offset, limit uint64) (TxPage, error)
}
