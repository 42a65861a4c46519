package listener

import (
	"context"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/txevents"
)

// Identifier names one on-chain entity extracted from a transaction's
// events: a primary id (trade, loan, raffle) and optionally a child id
// (counter trade, offer) underneath it. Domains whose natural keys carry a
// string component use Owner and Ref: loans are keyed by borrower address
// plus loan id, and loan offers by a globally unique string id.
type Identifier struct {
	Primary uint64
	Sub     *uint64

	// Owner qualifies Primary with an owning address when the contract
	// scopes ids per user rather than globally.
	Owner string

	// Ref is an opaque string id for entities not addressed numerically.
	Ref string
}

// WithSub builds an Identifier for a child entity.
func WithSub(primary, sub uint64) Identifier {
	return Identifier{Primary: primary, Sub: &sub}
}

// Domain is one contract domain plugged into the listener engine. The engine
// owns the poll loop, deduplication and ordering; the domain contributes
// everything contract-specific: where the contract lives, which trigger
// wakes it, how to read ids out of events, and how to reconcile and notify.
type Domain interface {
	// Name is the short domain name ("trade", "loan", "raffle") used in
	// ledger keys and logs.
	Name() string

	// TriggerKind is the bus message kind that wakes this domain.
	TriggerKind() string

	// ContractAddress returns the domain's contract address on the given
	// network, or an error when the domain is not deployed there.
	ContractAddress(network string) (string, error)

	// ExtractIdentifiers pulls every entity id referenced by the parsed
	// events of one transaction, deduplicated, parents ordered before their
	// children. Events missing the expected id attributes contribute
	// nothing; they must not fail the extraction.
	ExtractIdentifiers(events []txevents.MessageEvents) []Identifier

	// Reconcile re-queries authoritative chain state for the identified
	// entity and upserts the cache. A gateway.ErrNotFound return means the
	// entity could not be resolved; the engine skips it and moves on.
	Reconcile(ctx context.Context, network string, id Identifier) error

	// DeriveNotifications inspects the transaction's parsed events and
	// persists notifications for every affected user. It runs after every
	// identifier of the transaction has been reconciled, so fan-out paths
	// read fresh child state. Malformed or unresolvable events must be
	// skipped at per-event granularity, never failing the transaction.
	DeriveNotifications(ctx context.Context, network string, tx gateway.TxResponse, events []txevents.MessageEvents) error
}
