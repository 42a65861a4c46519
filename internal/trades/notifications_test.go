package trades

import (
	"context"
	"testing"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/txevents"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseWasm builds parsed message events, one message per attribute map.
func parseWasm(t *testing.T, messages ...map[string][]string) []txevents.MessageEvents {
	t.Helper()

	logs := make([]txevents.MessageLog, 0, len(messages))
	for i, attrs := range messages {
		var attributes []txevents.Attribute
		for key, values := range attrs {
			for _, value := range values {
				attributes = append(attributes, txevents.Attribute{Key: key, Value: value})
			}
		}
		logs = append(logs, txevents.MessageLog{
			MsgIndex: uint32(i),
			Events:   []txevents.Event{{Type: txevents.EventTypeWasm, Attributes: attributes}},
		})
	}
	return txevents.ParseLogs(logs)
}

func TestDeriveNotifications(t *testing.T) {
	ctx := context.Background()
	tx := gateway.TxResponse{TxHash: "AA"}

	seedTrade := func(t *testing.T, storage Storage, owner string) {
		t.Helper()
		require.NoError(t, storage.UpsertTrade(ctx, Trade{
			Network: "testnet", TradeID: 5, Owner: owner, State: "countered",
			AssociatedAssets: []byte(`[{"cw721_coin":{"address":"terra1nft","token_id":"12"}}]`),
		}))
	}

	seedCounter := func(t *testing.T, storage Storage, counterID uint64, owner string) {
		t.Helper()
		require.NoError(t, storage.UpsertCounterTrade(ctx, CounterTrade{
			Network: "testnet", TradeID: 5, CounterID: counterID, Owner: owner, State: "published",
		}))
	}

	t.Run("confirm counter trade notifies the trade owner", func(t *testing.T) {
		storage := newMemoryStorage()
		seedTrade(t, storage, "terra1owner")
		seedCounter(t, storage, 1, "terra1counter")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1trade"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":     {ActionConfirmCounterTrade},
			"trade_id":   {"5"},
			"counter_id": {"1"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 1)
		got := capture.dispatched[0]
		assert.Equal(t, "terra1owner", got.Recipient)
		assert.Equal(t, NotificationNewCounterTrade, got.Type)
		assert.Equal(t, uint64(5), got.PrimaryID)
		require.NotNil(t, got.SubID)
		assert.Equal(t, uint64(1), *got.SubID)
	})

	t.Run("accept trade fans out to every losing sibling", func(t *testing.T) {
		storage := newMemoryStorage()
		seedTrade(t, storage, "terra1owner")
		seedCounter(t, storage, 1, "terra1winner")
		seedCounter(t, storage, 2, "terra1loser2")
		seedCounter(t, storage, 3, "terra1loser3")
		seedCounter(t, storage, 4, "terra1loser4")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1trade"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":     {ActionAcceptTrade},
			"trade_id":   {"5"},
			"counter_id": {"1"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 4, "one accepted plus one cancelled per losing sibling")

		accepted := capture.dispatched[0]
		assert.Equal(t, NotificationCounterTradeAccepted, accepted.Type)
		assert.Equal(t, "terra1winner", accepted.Recipient)

		cancelled := make(map[string]bool)
		for _, n := range capture.dispatched[1:] {
			assert.Equal(t, NotificationCounterTradeCancelled, n.Type)
			cancelled[n.Recipient] = true
		}
		assert.Equal(t, map[string]bool{
			"terra1loser2": true,
			"terra1loser3": true,
			"terra1loser4": true,
		}, cancelled)
	})

	t.Run("cancel trade notifies every counter trader", func(t *testing.T) {
		storage := newMemoryStorage()
		seedTrade(t, storage, "terra1owner")
		seedCounter(t, storage, 1, "terra1counter1")
		seedCounter(t, storage, 2, "terra1counter2")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1trade"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":   {ActionCancelTrade},
			"trade_id": {"5"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 2)
		for _, n := range capture.dispatched {
			assert.Equal(t, NotificationTradeCancelled, n.Type)
		}
	})

	t.Run("refuse counter trade notifies the counter owner", func(t *testing.T) {
		storage := newMemoryStorage()
		seedTrade(t, storage, "terra1owner")
		seedCounter(t, storage, 2, "terra1counter")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1trade"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":     {ActionRefuseCounterTrade},
			"trade_id":   {"5"},
			"counter_id": {"2"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))

		require.Len(t, capture.dispatched, 1)
		assert.Equal(t, NotificationCounterTradeRefused, capture.dispatched[0].Type)
		assert.Equal(t, "terra1counter", capture.dispatched[0].Recipient)
	})

	t.Run("event missing its ids is skipped while siblings proceed", func(t *testing.T) {
		storage := newMemoryStorage()
		seedTrade(t, storage, "terra1owner")
		seedCounter(t, storage, 1, "terra1counter")

		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1trade"}, storage, newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t,
			map[string][]string{"action": {ActionConfirmCounterTrade}}, // no ids at all
			map[string][]string{
				"action":     {ActionConfirmCounterTrade},
				"trade_id":   {"5"},
				"counter_id": {"1"},
			},
		)

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))
		assert.Len(t, capture.dispatched, 1)
	})

	t.Run("unknown action produces nothing", func(t *testing.T) {
		capture := &dispatcherCapture{}
		domain := New(map[string]string{"testnet": "terra1trade"}, newMemoryStorage(), newGatewayStub(), metadataStub{}, capture)

		events := parseWasm(t, map[string][]string{
			"action":   {"withdraw_all_from_trade"},
			"trade_id": {"5"},
		})

		require.NoError(t, domain.DeriveNotifications(ctx, "testnet", tx, events))
		assert.Empty(t, capture.dispatched)
	})
}
