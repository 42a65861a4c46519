package loans

import (
	"context"
	"testing"

	"github.com/Illiquidly/marketwatch/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveNotifications(t *testing.T) {
	ctx := context.Background()
	tx := gateway.TxResponse{TxHash: "BB"}

	seedLoan := func(t *testing.T, storage Storage, activeOffer *string) {
		t.Helper()
		require.NoError(t, storage.UpsertLoan(ctx, Loan{
			Network: "testnet", Borrower: "terra1borrower", LoanID: 3, State: "published",
			AssociatedAssets: []byte(`[{"cw721_coin":{"address":"terra1nft","token_id":"42"}}]`),
			ActiveOfferID:    activeOffer,
		}))
	}

	seedOffer := func(t *testing.T, storage Storage, id, lender string) {
		t.Helper()
		require.NoError(t, storage.UpsertOffer(ctx, Offer{
			Network: "testnet", GlobalOfferID: id, Borrower: "terra1borrower", LoanID: 3,
			Lender: lender, State: "published",
		}))
	}

	t.Run("make offer notifies the borrower", func(t *testing.T) {
		storage := newMemoryStorage()
		seedLoan(t, storage, nil)
		seedOffer(t, storage, "offer_7", "terra1lender")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":          {ActionMakeOffer},
			"borrower":        {"terra1borrower"},
			"loan_id":         {"3"},
			"global_offer_id": {"offer_7"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 1)
		got := capture.dispatched[0]
		assert.Equal(t, "terra1borrower", got.Recipient)
		assert.Equal(t, NotificationNewOffer, got.Type)
		assert.Equal(t, uint64(3), got.PrimaryID)
		assert.Equal(t, "offer_7", got.SubRef)
	})

	t.Run("accept offer fans out to every losing lender", func(t *testing.T) {
		storage := newMemoryStorage()
		seedLoan(t, storage, nil)
		seedOffer(t, storage, "offer_1", "terra1winner")
		seedOffer(t, storage, "offer_2", "terra1loser2")
		seedOffer(t, storage, "offer_3", "terra1loser3")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":          {ActionAcceptOffer},
			"global_offer_id": {"offer_1"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 3, "one accepted plus one cancelled per losing offer")

		accepted := capture.dispatched[0]
		assert.Equal(t, NotificationOfferAccepted, accepted.Type)
		assert.Equal(t, "terra1winner", accepted.Recipient)

		cancelled := make(map[string]bool)
		for _, n := range capture.dispatched[1:] {
			assert.Equal(t, NotificationOfferCancelled, n.Type)
			cancelled[n.Recipient] = true
		}
		assert.Equal(t, map[string]bool{
			"terra1loser2": true,
			"terra1loser3": true,
		}, cancelled)
	})

	t.Run("accept loan notifies the borrower and cancels every standing offer", func(t *testing.T) {
		storage := newMemoryStorage()
		seedLoan(t, storage, nil)
		seedOffer(t, storage, "offer_1", "terra1lender1")
		seedOffer(t, storage, "offer_2", "terra1lender2")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":   {ActionAcceptLoan},
			"borrower": {"terra1borrower"},
			"loan_id":  {"3"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 3)
		assert.Equal(t, NotificationLoanAccepted, capture.dispatched[0].Type)
		assert.Equal(t, "terra1borrower", capture.dispatched[0].Recipient)
		for _, n := range capture.dispatched[1:] {
			assert.Equal(t, NotificationOfferCancelled, n.Type)
		}
	})

	t.Run("repay addresses the active offer's lender", func(t *testing.T) {
		storage := newMemoryStorage()
		active := "offer_1"
		seedLoan(t, storage, &active)
		seedOffer(t, storage, "offer_1", "terra1lender")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":   {ActionRepayBorrowedFunds},
			"borrower": {"terra1borrower"},
			"loan_id":  {"3"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 1)
		assert.Equal(t, NotificationLoanRepaid, capture.dispatched[0].Type)
		assert.Equal(t, "terra1lender", capture.dispatched[0].Recipient)
	})

	t.Run("withdraw defaulted loan notifies the borrower", func(t *testing.T) {
		storage := newMemoryStorage()
		seedLoan(t, storage, nil)

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":   {ActionWithdrawDefaulted},
			"borrower": {"terra1borrower"},
			"loan_id":  {"3"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 1)
		assert.Equal(t, NotificationLoanDefaulted, capture.dispatched[0].Type)
		assert.Equal(t, "terra1borrower", capture.dispatched[0].Recipient)
	})

	t.Run("cancel offer notifies the borrower, refuse notifies the lender", func(t *testing.T) {
		storage := newMemoryStorage()
		seedLoan(t, storage, nil)
		seedOffer(t, storage, "offer_1", "terra1lender")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":          {ActionCancelOffer},
			"global_offer_id": {"offer_1"},
		}, map[string][]string{
			"action":          {ActionRefuseOffer},
			"global_offer_id": {"offer_1"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 2)
		assert.Equal(t, NotificationOfferWithdrawn, capture.dispatched[0].Type)
		assert.Equal(t, "terra1borrower", capture.dispatched[0].Recipient)
		assert.Equal(t, NotificationOfferRefused, capture.dispatched[1].Type)
		assert.Equal(t, "terra1lender", capture.dispatched[1].Recipient)
	})

	t.Run("event missing loan id is skipped while siblings proceed", func(t *testing.T) {
		storage := newMemoryStorage()
		seedLoan(t, storage, nil)
		seedOffer(t, storage, "offer_7", "terra1lender")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t,
			map[string][]string{
				"action":   {ActionAcceptLoan},
				"borrower": {"terra1borrower"}, // loan_id absent
			},
			map[string][]string{
				"action":          {ActionMakeOffer},
				"borrower":        {"terra1borrower"},
				"loan_id":         {"3"},
				"global_offer_id": {"offer_7"},
			},
		)

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))
		require.Len(t, capture.dispatched, 1)
		assert.Equal(t, NotificationNewOffer, capture.dispatched[0].Type)
	})

	t.Run("unknown action produces nothing", func(t *testing.T) {
		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1loan"}, newMemoryStorage(), newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":   {"set_fee_rate"},
			"borrower": {"terra1borrower"},
			"loan_id":  {"3"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))
		assert.Empty(t, capture.dispatched)
	})
}
