// Package raffles reconciles the NFT raffle contract's state into the cache
// and derives per-user notifications from raffle activity. A Raffle is a
// published prize listing; Participants are the aggregated per-user ticket
// counts underneath it, merged monotonically as tickets are bought.
package raffles

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DomainName keys ledger entries, notification tables and logs.
const DomainName = "raffle"

// Contract execute-message actions observed in wasm events.
const (
	ActionCreateRaffle = "create_raffle"
	ActionModifyRaffle = "modify_raffle"
	ActionBuyTicket    = "buy_ticket"
	ActionClaimRaffle  = "claim_nft"
	ActionCancelRaffle = "cancel_raffle"
)

// Notification types derived from raffle actions.
const (
	NotificationNewTicket       = "new_ticket"
	NotificationRaffleWon       = "raffle_won"
	NotificationRaffleLost      = "raffle_lost"
	NotificationRaffleCancelled = "raffle_cancelled"
)

// Historical attribute key aliases: older contract versions emitted the id
// without the "_id" suffix.
var raffleIDKeys = []string{"raffle_id", "raffle"}

// ErrNotCached is returned by Storage when the requested row does not exist.
var ErrNotCached = errors.New("raffle entity not cached")

// Raffle is one authoritative snapshot of a raffle's on-chain state, keyed
// by (network, raffle id). Participants live in their own rows so a raffle
// upsert never touches them.
//
// TicketsSeen counts the tickets already merged into participant rows; the
// next reconciliation resumes its ticket-holder paging from that offset.
type Raffle struct {
	Network          string
	RaffleID         uint64
	Owner            string
	State            string
	AssociatedAssets json.RawMessage
	RaffleOptions    json.RawMessage
	Winner           *string
	NumberOfTickets  uint64
	TicketsSeen      uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Participant is one user's aggregated ticket count under a raffle, keyed by
// (network, raffle id, user). TicketNumber only ever grows: ticket purchases
// are merged in, never replayed over the full list.
type Participant struct {
	Network      string
	RaffleID     uint64
	User         string
	TicketNumber uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Storage persists raffles and their participant aggregates.
type Storage interface {
	// GetRaffle returns the cached raffle, or ErrNotCached.
	GetRaffle(ctx context.Context, network string, raffleID uint64) (Raffle, error)

	// UpsertRaffle inserts or replaces the raffle row by its natural key,
	// preserving the surrogate id of an existing row, and writes the given
	// participant rows in the same atomic step. TicketsSeen accounts for the
	// ticket counts in those rows, so neither side may land without the
	// other: a replay after a torn write would merge the same tickets twice.
	UpsertRaffle(ctx context.Context, raffle Raffle, participants []Participant) error

	// ListParticipants returns every cached participant under the given
	// raffle, ordered by user address.
	ListParticipants(ctx context.Context, network string, raffleID uint64) ([]Participant, error)
}

// previewOf extracts the first raffled asset as a notification preview. It
// returns nil when the asset list is absent or empty.
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
