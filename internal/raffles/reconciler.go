package raffles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/nftmeta"
	"github.com/Illiquidly/marketwatch/internal/pkg/types"
)

// ticketPageLimit bounds one all_tickets query. The contract caps its own
// page size, so larger values are clamped server-side anyway.
const ticketPageLimit = 100

// raffleInfoResponse is the contract's raffle_info response shape, reduced
// to the fields the cache carries.
type raffleInfoResponse struct {
	Owner            string            `json:"owner"`
	State            string            `json:"state"`
	AssociatedAssets []json.RawMessage `json:"associated_assets"`
	RaffleOptions    json.RawMessage   `json:"raffle_options"`
	Winner           *string           `json:"winner"`
	NumberOfTickets  uint64            `json:"number_of_tickets"`
}

// allTicketsResponse is the contract's all_tickets response shape: one entry
// per ticket, holding the buyer's address.
type allTicketsResponse struct {
	Tickets []string `json:"tickets"`
}

// cw721Asset matches the cw721_coin variant of a raffled asset, used to warm
// the shared collection metadata cache.
type cw721Asset struct {
	CW721Coin *struct {
		Address string `json:"address"`
		TokenID string `json:"token_id"`
	} `json:"cw721_coin"`
}

type reconciler struct {
	storage  Storage
	gw       gateway.Service
	metadata nftmeta.Service
	now      func() time.Time
}

// reconcileRaffle re-queries the raffle's authoritative state, upserts the
// cache row, and merges newly bought tickets into the participant rows.
//
// The raffle's scalar fields follow full-replace semantics, the participant
// list does not: the contract only exposes ticket holders as an append-only
// sequence, so reconciliation pages through the tickets beyond the
// previously seen offset and accumulates per-user counts. Counts never
// shrink and rows are never dropped.
func (r *reconciler) reconcileRaffle(ctx context.Context, network, contract string, raffleID uint64) error {
	query, _ := json.Marshal(map[string]any{
		"raffle_info": map[string]any{"raffle_id": raffleID},
	})

	raw, err := r.gw.Query(ctx, network, contract, query)
	if err != nil {
		return fmt.Errorf("raffle %d: %w", raffleID, err)
	}

	var info raffleInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("raffle %d: decode raffle_info: %w", raffleID, err)
	}

	now := r.now()
	raffle := Raffle{
		Network:          network,
		RaffleID:         raffleID,
		Owner:            info.Owner,
		State:            info.State,
		AssociatedAssets: marshalAssets(info.AssociatedAssets),
		RaffleOptions:    info.RaffleOptions,
		Winner:           info.Winner,
		NumberOfTickets:  info.NumberOfTickets,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if existing, err := r.storage.GetRaffle(ctx, network, raffleID); err == nil {
		raffle.CreatedAt = existing.CreatedAt
		raffle.TicketsSeen = existing.TicketsSeen
	} else if !errors.Is(err, ErrNotCached) {
		return err
	}

	merged, err := r.mergeTickets(ctx, network, contract, &raffle)
	if err != nil {
		return fmt.Errorf("raffle %d: merge tickets: %w", raffleID, err)
	}

	r.warmAssetMetadata(ctx, network, info.AssociatedAssets)

	// One atomic write: the advanced TicketsSeen and the counts it covers
	// must commit together, otherwise a replay of this page double counts.
	return r.storage.UpsertRaffle(ctx, raffle, merged)
}

// mergeTickets pages through the ticket holders beyond raffle.TicketsSeen,
// accumulates per-user counts into the existing participant rows and
// advances TicketsSeen by the number of tickets consumed. It returns the
// participant rows that changed.
func (r *reconciler) mergeTickets(ctx context.Context, network, contract string, raffle *Raffle) ([]Participant, error) {
	if raffle.NumberOfTickets <= raffle.TicketsSeen {
		return nil, nil
	}

	counts := types.NewDefaultMap[string, uint64](func() uint64 { return 0 })
	var fetched uint64

	for raffle.TicketsSeen+fetched < raffle.NumberOfTickets {
		query, _ := json.Marshal(map[string]any{
			"all_tickets": map[string]any{
				"raffle_id":   raffle.RaffleID,
				"start_after": raffle.TicketsSeen + fetched,
				"limit":       ticketPageLimit,
			},
		})

		raw, err := r.gw.Query(ctx, network, contract, query)
		if err != nil {
			return nil, err
		}

		var page allTicketsResponse
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode all_tickets: %w", err)
		}
		if len(page.Tickets) == 0 {
			break
		}

		for _, user := range page.Tickets {
			counts.Set(user, counts.Get(user)+1)
		}
		fetched += uint64(len(page.Tickets))

		if len(page.Tickets) < ticketPageLimit {
			break
		}
	}

	if fetched == 0 {
		return nil, nil
	}

	existing, err := r.storage.ListParticipants(ctx, network, raffle.RaffleID)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]Participant, len(existing))
	for _, p := range existing {
		byUser[p.User] = p
	}

	now := r.now()
	merged := make([]Participant, 0, len(counts.ToMap()))
	for user, count := range counts.ToMap() {
		p, ok := byUser[user]
		if !ok {
			p = Participant{
				Network:   network,
				RaffleID:  raffle.RaffleID,
				User:      user,
				CreatedAt: now,
			}
		}
		p.TicketNumber += count
		p.UpdatedAt = now
		merged = append(merged, p)
	}

	raffle.TicketsSeen += fetched
	return merged, nil
}

// warmAssetMetadata lazily populates the shared CW721 metadata cache for
// every NFT raffled off. Failures are tolerated: metadata is an enrichment,
// not a reconciliation requirement.
func (r *reconciler) warmAssetMetadata(ctx context.Context, network string, assets []json.RawMessage) {
	for _, raw := range assets {
		var asset cw721Asset
		if err := json.Unmarshal(raw, &asset); err != nil || asset.CW721Coin == nil {
			continue
		}
		_, _ = r.metadata.Collection(ctx, network, asset.CW721Coin.Address)
	}
}

func marshalAssets(assets []json.RawMessage) json.RawMessage {
	if assets == nil {
		return nil
	}
	raw, _ := json.Marshal(assets)
	return raw
}
