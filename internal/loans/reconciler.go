package loans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/nftmeta"
)

// collateralInfoResponse is the contract's collateral_info response shape,
// reduced to the fields the cache carries.
type collateralInfoResponse struct {
	State            string            `json:"state"`
	Terms            json.RawMessage   `json:"terms"`
	AssociatedAssets []json.RawMessage `json:"associated_assets"`
	ActiveOfferID    *string           `json:"active_offer"`
}

// offerInfoResponse is the contract's offer_info response shape.
type offerInfoResponse struct {
	Borrower string          `json:"borrower"`
	LoanID   uint64          `json:"loan_id"`
	Lender   string          `json:"lender"`
	State    string          `json:"state"`
	Terms    json.RawMessage `json:"terms"`
}

// cw721Asset matches the cw721_coin variant of a collateral asset, used to
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

// reconcileLoan re-queries the loan's authoritative state and upserts the
// cache row. The existing row's creation time is carried over; offers live
// in their own rows and are untouched.
func (r *reconciler) reconcileLoan(ctx context.Context, network, contract, borrower string, loanID uint64) error {
	query, _ := json.Marshal(map[string]any{
		"collateral_info": map[string]any{"borrower": borrower, "loan_id": loanID},
	})

	raw, err := r.gw.Query(ctx, network, contract, query)
	if err != nil {
		return fmt.Errorf("loan %s/%d: %w", borrower, loanID, err)
	}

	var info collateralInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("loan %s/%d: decode collateral_info: %w", borrower, loanID, err)
	}

	now := r.now()
	loan := Loan{
		Network:          network,
		Borrower:         borrower,
		LoanID:           loanID,
		State:            info.State,
		Terms:            info.Terms,
		AssociatedAssets: marshalAssets(info.AssociatedAssets),
		ActiveOfferID:    info.ActiveOfferID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if existing, err := r.storage.GetLoan(ctx, network, borrower, loanID); err == nil {
		loan.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotCached) {
		return err
	}

	r.warmAssetMetadata(ctx, network, info.AssociatedAssets)

	return r.storage.UpsertLoan(ctx, loan)
}

// reconcileOffer re-queries one offer by its global id and upserts its row.
func (r *reconciler) reconcileOffer(ctx context.Context, network, contract, globalOfferID string) error {
	query, _ := json.Marshal(map[string]any{
		"offer_info": map[string]any{"global_offer_id": globalOfferID},
	})

	raw, err := r.gw.Query(ctx, network, contract, query)
	if err != nil {
		return fmt.Errorf("offer %s: %w", globalOfferID, err)
	}

	var info offerInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("offer %s: decode offer_info: %w", globalOfferID, err)
	}

	now := r.now()
	offer := Offer{
		Network:       network,
		GlobalOfferID: globalOfferID,
		Borrower:      info.Borrower,
		LoanID:        info.LoanID,
		Lender:        info.Lender,
		State:         info.State,
		Terms:         info.Terms,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if existing, err := r.storage.GetOffer(ctx, network, globalOfferID); err == nil {
		offer.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotCached) {
		return err
	}

	return r.storage.UpsertOffer(ctx, offer)
}

// warmAssetMetadata lazily populates the shared CW721 metadata cache for
// every NFT referenced by the collateral list. Failures are tolerated:
// metadata is an enrichment, not a reconciliation requirement.
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
