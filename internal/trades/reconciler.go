package trades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/nftmeta"
)

// tradeInfoResponse is the contract's trade_info / counter_trade_info
// response shape, reduced to the fields the cache carries.
type tradeInfoResponse struct {
	Owner            string            `json:"owner"`
	State            string            `json:"state"`
	AssociatedAssets []json.RawMessage `json:"associated_assets"`
	WhitelistedUsers []string          `json:"whitelisted_users"`
	LastCounterID    *uint64           `json:"last_counter_id"`
}

// cw721Asset matches the cw721_coin variant of an associated asset, used to
// warm the shared collection metadata cache.
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

// reconcileTrade re-queries the trade's authoritative state and upserts the
// cache row. The existing row's creation time is carried over; counter
// trades live in their own rows and are untouched.
func (r *reconciler) reconcileTrade(ctx context.Context, network, contract string, tradeID uint64) error {
	query, _ := json.Marshal(map[string]any{
		"trade_info": map[string]any{"trade_id": tradeID},
	})

	raw, err := r.gw.Query(ctx, network, contract, query)
	if err != nil {
		return fmt.Errorf("trade %d: %w", tradeID, err)
	}

	var info tradeInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("trade %d: decode trade_info: %w", tradeID, err)
	}

	now := r.now()
	trade := Trade{
		Network:          network,
		TradeID:          tradeID,
		Owner:            info.Owner,
		State:            info.State,
		WhitelistedUsers: info.WhitelistedUsers,
		AssociatedAssets: marshalAssets(info.AssociatedAssets),
		LastCounterID:    info.LastCounterID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if existing, err := r.storage.GetTrade(ctx, network, tradeID); err == nil {
		trade.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotCached) {
		return err
	}

	r.warmAssetMetadata(ctx, network, info.AssociatedAssets)

	return r.storage.UpsertTrade(ctx, trade)
}

// reconcileCounterTrade re-queries one counter trade and upserts its row.
func (r *reconciler) reconcileCounterTrade(ctx context.Context, network, contract string, tradeID, counterID uint64) error {
	query, _ := json.Marshal(map[string]any{
		"counter_trade_info": map[string]any{"trade_id": tradeID, "counter_id": counterID},
	})

	raw, err := r.gw.Query(ctx, network, contract, query)
	if err != nil {
		return fmt.Errorf("counter trade %d/%d: %w", tradeID, counterID, err)
	}

	var info tradeInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("counter trade %d/%d: decode counter_trade_info: %w", tradeID, counterID, err)
	}

	now := r.now()
	counter := CounterTrade{
		Network:          network,
		TradeID:          tradeID,
		CounterID:        counterID,
		Owner:            info.Owner,
		State:            info.State,
		AssociatedAssets: marshalAssets(info.AssociatedAssets),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if existing, err := r.storage.GetCounterTrade(ctx, network, tradeID, counterID); err == nil {
		counter.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotCached) {
		return err
	}

	r.warmAssetMetadata(ctx, network, info.AssociatedAssets)

	return r.storage.UpsertCounterTrade(ctx, counter)
}

// warmAssetMetadata lazily populates the shared CW721 metadata cache for
// every NFT referenced by the asset list. Failures are tolerated: metadata
// is an enrichment, not a reconciliation requirement.
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
