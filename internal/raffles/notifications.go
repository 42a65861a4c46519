package raffles

import (
	"context"
	"errors"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/notify"
	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/txevents"
)

// deriver turns parsed raffle events into notifications. It reads entity
// state from the cache, which the reconciler has refreshed before the
// deriver runs, so the winner and participant rows are current.
type deriver struct {
	storage    Storage
	dispatcher notify.Dispatcher
}

// derive walks a transaction's events and dispatches every notification they
// imply. Events with missing or unresolvable ids are skipped individually;
// sibling events in the same transaction still produce notifications.
func (d *deriver) derive(ctx context.Context, network string, tx gateway.TxResponse, events []txevents.MessageEvents) error {
	var batch []notify.Notification

	for _, ev := range events {
		wasm := ev.Wasm()
		action, ok := wasm.Action()
		if !ok {
			continue
		}

		derived, err := d.deriveAction(ctx, network, action, wasm)
		if err != nil {
			return err
		}
		batch = append(batch, derived...)
	}

	return d.dispatcher.Dispatch(ctx, DomainName, batch)
}

// deriveAction is the dispatch table keyed by the wasm action attribute.
func (d *deriver) deriveAction(ctx context.Context, network, action string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	switch action {
	case ActionBuyTicket:
		return d.ticketBought(ctx, network, wasm)
	case ActionClaimRaffle:
		return d.raffleClaimed(ctx, network, wasm)
	case ActionCancelRaffle:
		return d.raffleCancelled(ctx, network, wasm)
	default:
		return nil, nil
	}
}

// ticketBought addresses the raffle owner: someone bought tickets for their
// raffle.
func (d *deriver) ticketBought(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	raffle, ok, err := d.raffleOf(ctx, network, wasm, "ticket bought")
	if err != nil || !ok {
		return nil, err
	}

	return []notify.Notification{{
		Network:   network,
		Recipient: raffle.Owner,
		PrimaryID: raffle.RaffleID,
		Type:      NotificationNewTicket,
		Preview:   previewOf(raffle.AssociatedAssets),
	}}, nil
}

// raffleClaimed addresses the drawn winner, then fans out one lost
// notification to every other participant.
func (d *deriver) raffleClaimed(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	raffle, ok, err := d.raffleOf(ctx, network, wasm, "raffle claimed")
	if err != nil || !ok {
		return nil, err
	}

	if raffle.Winner == nil {
		d.skipEvent(ctx, "claimed raffle without winner")
		return nil, nil
	}
	winner := *raffle.Winner

	preview := previewOf(raffle.AssociatedAssets)
	notifications := []notify.Notification{{
		Network:   network,
		Recipient: winner,
		PrimaryID: raffle.RaffleID,
		Type:      NotificationRaffleWon,
		Preview:   preview,
	}}

	participants, err := d.storage.ListParticipants(ctx, network, raffle.RaffleID)
	if err != nil {
		return nil, err
	}

	for _, participant := range participants {
		if participant.User == winner {
			continue
		}
		notifications = append(notifications, notify.Notification{
			Network:   network,
			Recipient: participant.User,
			PrimaryID: raffle.RaffleID,
			Type:      NotificationRaffleLost,
			Preview:   preview,
		})
	}

	return notifications, nil
}

// raffleCancelled fans out to every participant of the cancelled raffle.
func (d *deriver) raffleCancelled(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	raffle, ok, err := d.raffleOf(ctx, network, wasm, "raffle cancelled")
	if err != nil || !ok {
		return nil, err
	}

	participants, err := d.storage.ListParticipants(ctx, network, raffle.RaffleID)
	if err != nil {
		return nil, err
	}

	preview := previewOf(raffle.AssociatedAssets)
	notifications := make([]notify.Notification, 0, len(participants))
	for _, participant := range participants {
		notifications = append(notifications, notify.Notification{
			Network:   network,
			Recipient: participant.User,
			PrimaryID: raffle.RaffleID,
			Type:      NotificationRaffleCancelled,
			Preview:   preview,
		})
	}

	return notifications, nil
}

// raffleOf resolves the cached raffle addressed by the event's raffle id
// attribute. ok=false means the event must be skipped.
func (d *deriver) raffleOf(ctx context.Context, network string, wasm txevents.AttributeBag, what string) (Raffle, bool, error) {
	raffleID, ok := wasm.Uint64(raffleIDKeys...)
	if !ok {
		d.skipEvent(ctx, what+" without raffle id")
		return Raffle{}, false, nil
	}

	raffle, err := d.storage.GetRaffle(ctx, network, raffleID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "raffle missing from cache")
			return Raffle{}, false, nil
		}
		return Raffle{}, false, err
	}
	return raffle, true, nil
}

func (d *deriver) skipEvent(ctx context.Context, reason string) {
	logger.Debug(ctx, "raffle event skipped", "reason", reason)
}
