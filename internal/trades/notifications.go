package trades

import (
	"context"
	"errors"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/notify"
	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/txevents"
)

// deriver turns parsed trade events into notifications. It reads entity
// state from the cache, which the reconciler has refreshed before the
// deriver runs, so fan-out paths see the post-transaction world.
type deriver struct {
	storage    Storage
	dispatcher notify.Dispatcher
}

// derive walks a transaction's events and dispatches every notification
// they imply. Events with missing or unresolvable ids are skipped
// individually; sibling events in the same transaction still produce
// notifications.
func (d *deriver) derive(ctx context.Context, network string, tx gateway.TxResponse, events []txevents.MessageEvents) error {
	var batch []notify.Notification

	for _, ev := range events {
		wasm := ev.Wasm()
		action, ok := wasm.Action()
		if !ok {
			continue
		}

		derived, err := d.deriveAction(ctx, network, action, wasm, tx)
		if err != nil {
			return err
		}
		batch = append(batch, derived...)
	}

	return d.dispatcher.Dispatch(ctx, DomainName, batch)
}

// deriveAction is the dispatch table keyed by the wasm action attribute.
func (d *deriver) deriveAction(ctx context.Context, network, action string, wasm txevents.AttributeBag, tx gateway.TxResponse) ([]notify.Notification, error) {
	switch action {
	case ActionSuggestCounterTrade, ActionConfirmCounterTrade:
		return d.counterTradeProposed(ctx, network, wasm)
	case ActionAcceptTrade:
		return d.tradeAccepted(ctx, network, wasm)
	case ActionRefuseCounterTrade:
		return d.counterTradeClosed(ctx, network, wasm, NotificationCounterTradeRefused)
	case ActionReviewCounterTrade:
		return d.counterTradeClosed(ctx, network, wasm, NotificationCounterTradeReviewed)
	case ActionCancelTrade:
		return d.tradeCancelled(ctx, network, wasm)
	default:
		return nil, nil
	}
}

// counterTradeProposed addresses the trade owner: someone proposed or
// confirmed a counter trade under their trade.
func (d *deriver) counterTradeProposed(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	tradeID, ok := wasm.Uint64(tradeIDKeys...)
	if !ok {
		d.skipEvent(ctx, "counter trade proposed without trade id")
		return nil, nil
	}
	counterID, ok := wasm.Uint64(counterIDKeys...)
	if !ok {
		d.skipEvent(ctx, "counter trade proposed without counter id")
		return nil, nil
	}

	trade, err := d.storage.GetTrade(ctx, network, tradeID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "trade missing from cache")
			return nil, nil
		}
		return nil, err
	}

	counter, err := d.storage.GetCounterTrade(ctx, network, tradeID, counterID)
	if err != nil && !errors.Is(err, ErrNotCached) {
		return nil, err
	}

	return []notify.Notification{{
		Network:   network,
		Recipient: trade.Owner,
		PrimaryID: tradeID,
		SubID:     &counterID,
		Type:      NotificationNewCounterTrade,
		Preview:   previewOf(counter.AssociatedAssets),
	}}, nil
}

// tradeAccepted addresses the winning counter trader, then fans out one
// cancelled notification to every sibling counter trader that did not win.
func (d *deriver) tradeAccepted(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	tradeID, ok := wasm.Uint64(tradeIDKeys...)
	if !ok {
		d.skipEvent(ctx, "trade accepted without trade id")
		return nil, nil
	}
	counterID, ok := wasm.Uint64(counterIDKeys...)
	if !ok {
		d.skipEvent(ctx, "trade accepted without counter id")
		return nil, nil
	}

	trade, err := d.storage.GetTrade(ctx, network, tradeID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "trade missing from cache")
			return nil, nil
		}
		return nil, err
	}

	winner, err := d.storage.GetCounterTrade(ctx, network, tradeID, counterID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "accepted counter trade missing from cache")
			return nil, nil
		}
		return nil, err
	}

	preview := previewOf(trade.AssociatedAssets)
	notifications := []notify.Notification{{
		Network:   network,
		Recipient: winner.Owner,
		PrimaryID: tradeID,
		SubID:     &counterID,
		Type:      NotificationCounterTradeAccepted,
		Preview:   preview,
	}}

	siblings, err := d.storage.ListCounterTrades(ctx, network, tradeID)
	if err != nil {
		return nil, err
	}

	for _, sibling := range siblings {
		if sibling.CounterID == counterID {
			continue
		}
		subID := sibling.CounterID
		notifications = append(notifications, notify.Notification{
			Network:   network,
			Recipient: sibling.Owner,
			PrimaryID: tradeID,
			SubID:     &subID,
			Type:      NotificationCounterTradeCancelled,
			Preview:   preview,
		})
	}

	return notifications, nil
}

// counterTradeClosed addresses the owner of one specific counter trade that
// the trade owner refused or asked changes on.
func (d *deriver) counterTradeClosed(ctx context.Context, network string, wasm txevents.AttributeBag, notificationType string) ([]notify.Notification, error) {
	tradeID, ok := wasm.Uint64(tradeIDKeys...)
	if !ok {
		d.skipEvent(ctx, "counter trade update without trade id")
		return nil, nil
	}
	counterID, ok := wasm.Uint64(counterIDKeys...)
	if !ok {
		d.skipEvent(ctx, "counter trade update without counter id")
		return nil, nil
	}

	counter, err := d.storage.GetCounterTrade(ctx, network, tradeID, counterID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "counter trade missing from cache")
			return nil, nil
		}
		return nil, err
	}

	return []notify.Notification{{
		Network:   network,
		Recipient: counter.Owner,
		PrimaryID: tradeID,
		SubID:     &counterID,
		Type:      notificationType,
		Preview:   previewOf(counter.AssociatedAssets),
	}}, nil
}

// tradeCancelled fans out to every counter trader under the cancelled trade.
func (d *deriver) tradeCancelled(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	tradeID, ok := wasm.Uint64(tradeIDKeys...)
	if !ok {
		d.skipEvent(ctx, "trade cancelled without trade id")
		return nil, nil
	}

	trade, err := d.storage.GetTrade(ctx, network, tradeID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "trade missing from cache")
			return nil, nil
		}
		return nil, err
	}

	counters, err := d.storage.ListCounterTrades(ctx, network, tradeID)
	if err != nil {
		return nil, err
	}

	preview := previewOf(trade.AssociatedAssets)
	notifications := make([]notify.Notification, 0, len(counters))
	for _, counter := range counters {
		subID := counter.CounterID
		notifications = append(notifications, notify.Notification{
			Network:   network,
			Recipient: counter.Owner,
			PrimaryID: tradeID,
			SubID:     &subID,
			Type:      NotificationTradeCancelled,
			Preview:   preview,
		})
	}

	return notifications, nil
}

func (d *deriver) skipEvent(ctx context.Context, reason string) {
	logger.Debug(ctx, "trade event skipped", "reason", reason)
}
