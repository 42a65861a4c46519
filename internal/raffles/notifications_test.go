package raffles

import (
	"context"
	"testing"

	"github.com/Illiquidly/marketwatch/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveNotifications(t *testing.T) {
	ctx := context.Background()
	tx := gateway.TxResponse{TxHash: "CC"}

	seedRaffle := func(t *testing.T, storage Storage, winner *string) {
		t.Helper()
		require.NoError(t, storage.UpsertRaffle(ctx, Raffle{
			Network: "testnet", RaffleID: 2, Owner: "terra1owner", State: "started",
			AssociatedAssets: []byte(`[{"cw721_coin":{"address":"terra1nft","token_id":"9"}}]`),
			Winner:           winner,
		}, nil))
	}

	seedParticipant := func(t *testing.T, storage *memoryStorage, user string, tickets uint64) {
		t.Helper()
		storage.participants[participantKey("testnet", 2, user)] = Participant{
			Network: "testnet", RaffleID: 2, User: user, TicketNumber: tickets,
		}
	}

	t.Run("buy ticket notifies the raffle owner", func(t *testing.T) {
		storage := newMemoryStorage()
		seedRaffle(t, storage, nil)

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1raffle"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":    {ActionBuyTicket},
			"raffle_id": {"2"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 1)
		assert.Equal(t, "terra1owner", capture.dispatched[0].Recipient)
		assert.Equal(t, NotificationNewTicket, capture.dispatched[0].Type)
		assert.Equal(t, uint64(2), capture.dispatched[0].PrimaryID)
	})

	t.Run("claim fans out won to the winner and lost to everyone else", func(t *testing.T) {
		storage := newMemoryStorage()
		winner := "terra1winner"
		seedRaffle(t, storage, &winner)
		seedParticipant(t, storage, "terra1winner", 5)
		seedParticipant(t, storage, "terra1loser1", 2)
		seedParticipant(t, storage, "terra1loser2", 1)

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1raffle"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":    {ActionClaimRaffle},
			"raffle_id": {"2"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 3, "one won plus one lost per other participant")
		assert.Equal(t, NotificationRaffleWon, capture.dispatched[0].Type)
		assert.Equal(t, "terra1winner", capture.dispatched[0].Recipient)

		lost := make(map[string]bool)
		for _, n := range capture.dispatched[1:] {
			assert.Equal(t, NotificationRaffleLost, n.Type)
			lost[n.Recipient] = true
		}
		assert.Equal(t, map[string]bool{
			"terra1loser1": true,
			"terra1loser2": true,
		}, lost)
	})

	t.Run("claim without a drawn winner is skipped", func(t *testing.T) {
		storage := newMemoryStorage()
		seedRaffle(t, storage, nil)
		seedParticipant(t, storage, "terra1loser1", 2)

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1raffle"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":    {ActionClaimRaffle},
			"raffle_id": {"2"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))
		assert.Empty(t, capture.dispatched)
	})

	t.Run("cancel notifies every participant", func(t *testing.T) {
		storage := newMemoryStorage()
		seedRaffle(t, storage, nil)
		seedParticipant(t, storage, "terra1alice", 3)
		seedParticipant(t, storage, "terra1bob", 1)

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1raffle"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":    {ActionCancelRaffle},
			"raffle_id": {"2"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 2)
		for _, n := range capture.dispatched {
			assert.Equal(t, NotificationRaffleCancelled, n.Type)
		}
	})

	t.Run("event missing raffle id is skipped while siblings proceed", func(t *testing.T) {
		storage := newMemoryStorage()
		seedRaffle(t, storage, nil)

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1raffle"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t,
			map[string][]string{"action": {ActionBuyTicket}}, // raffle id absent
			map[string][]string{
				"action":    {ActionBuyTicket},
				"raffle_id": {"2"},
			},
		)

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))
		assert.Len(t, capture.dispatched, 1)
	})
}
