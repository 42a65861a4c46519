package loans

import (
	"context"
	"errors"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/notify"
	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/txevents"
)

// deriver turns parsed loan events into notifications. It reads entity state
// from the cache, which the reconciler has refreshed before the deriver
// runs, so fan-out paths see the post-transaction world.
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
	case ActionMakeOffer:
		return d.offerMade(ctx, network, wasm)
	case ActionAcceptOffer:
		return d.offerAccepted(ctx, network, wasm)
	case ActionAcceptLoan:
		return d.loanAccepted(ctx, network, wasm)
	case ActionCancelOffer:
		return d.offerClosed(ctx, network, wasm, NotificationOfferWithdrawn, recipientBorrower)
	case ActionRefuseOffer:
		return d.offerClosed(ctx, network, wasm, NotificationOfferRefused, recipientLender)
	case ActionRepayBorrowedFunds:
		return d.loanRepaid(ctx, network, wasm)
	case ActionWithdrawDefaulted:
		return d.loanDefaulted(ctx, network, wasm)
	case ActionWithdrawCollaterals:
		return d.loanCancelled(ctx, network, wasm)
	default:
		return nil, nil
	}
}

// offerMade addresses the borrower: a lender placed a new offer under their
// collateral listing.
func (d *deriver) offerMade(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	globalOfferID, ok := wasm.First(offerIDKeys...)
	if !ok {
		d.skipEvent(ctx, "offer made without offer id")
		return nil, nil
	}

	offer, err := d.storage.GetOffer(ctx, network, globalOfferID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "offer missing from cache")
			return nil, nil
		}
		return nil, err
	}

	loan, err := d.storage.GetLoan(ctx, network, offer.Borrower, offer.LoanID)
	if err != nil && !errors.Is(err, ErrNotCached) {
		return nil, err
	}

	return []notify.Notification{{
		Network:   network,
		Recipient: offer.Borrower,
		PrimaryID: offer.LoanID,
		SubRef:    globalOfferID,
		Type:      NotificationNewOffer,
		Preview:   previewOf(loan.AssociatedAssets),
	}}, nil
}

// offerAccepted addresses the winning lender, then fans out one cancelled
// notification to every sibling lender whose offer did not win.
func (d *deriver) offerAccepted(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	globalOfferID, ok := wasm.First(offerIDKeys...)
	if !ok {
		d.skipEvent(ctx, "offer accepted without offer id")
		return nil, nil
	}

	winner, err := d.storage.GetOffer(ctx, network, globalOfferID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "accepted offer missing from cache")
			return nil, nil
		}
		return nil, err
	}

	loan, err := d.storage.GetLoan(ctx, network, winner.Borrower, winner.LoanID)
	if err != nil && !errors.Is(err, ErrNotCached) {
		return nil, err
	}
	preview := previewOf(loan.AssociatedAssets)

	notifications := []notify.Notification{{
		Network:   network,
		Recipient: winner.Lender,
		PrimaryID: winner.LoanID,
		SubRef:    globalOfferID,
		Type:      NotificationOfferAccepted,
		Preview:   preview,
	}}

	siblings, err := d.storage.ListOffers(ctx, network, winner.Borrower, winner.LoanID)
	if err != nil {
		return nil, err
	}

	for _, sibling := range siblings {
		if sibling.GlobalOfferID == globalOfferID {
			continue
		}
		notifications = append(notifications, notify.Notification{
			Network:   network,
			Recipient: sibling.Lender,
			PrimaryID: winner.LoanID,
			SubRef:    sibling.GlobalOfferID,
			Type:      NotificationOfferCancelled,
			Preview:   preview,
		})
	}

	return notifications, nil
}

// loanAccepted addresses the borrower when a lender funds the listing at its
// published terms, then fans out a cancelled notification to every lender
// with a standing offer: there is no winning offer to exclude.
func (d *deriver) loanAccepted(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	loan, ok, err := d.loanOf(ctx, network, wasm, "loan accepted")
	if err != nil || !ok {
		return nil, err
	}

	preview := previewOf(loan.AssociatedAssets)
	notifications := []notify.Notification{{
		Network:   network,
		Recipient: loan.Borrower,
		PrimaryID: loan.LoanID,
		Type:      NotificationLoanAccepted,
		Preview:   preview,
	}}

	offers, err := d.storage.ListOffers(ctx, network, loan.Borrower, loan.LoanID)
	if err != nil {
		return nil, err
	}

	for _, offer := range offers {
		notifications = append(notifications, notify.Notification{
			Network:   network,
			Recipient: offer.Lender,
			PrimaryID: loan.LoanID,
			SubRef:    offer.GlobalOfferID,
			Type:      NotificationOfferCancelled,
			Preview:   preview,
		})
	}

	return notifications, nil
}

type offerRecipient int

const (
	recipientBorrower offerRecipient = iota
	recipientLender
)

// offerClosed addresses one party of a single offer that was withdrawn by
// its lender or refused by the borrower.
func (d *deriver) offerClosed(ctx context.Context, network string, wasm txevents.AttributeBag, notificationType string, recipient offerRecipient) ([]notify.Notification, error) {
	globalOfferID, ok := wasm.First(offerIDKeys...)
	if !ok {
		d.skipEvent(ctx, "offer update without offer id")
		return nil, nil
	}

	offer, err := d.storage.GetOffer(ctx, network, globalOfferID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "offer missing from cache")
			return nil, nil
		}
		return nil, err
	}

	to := offer.Borrower
	if recipient == recipientLender {
		to = offer.Lender
	}

	return []notify.Notification{{
		Network:   network,
		Recipient: to,
		PrimaryID: offer.LoanID,
		SubRef:    globalOfferID,
		Type:      notificationType,
		Preview:   previewOf(offer.Terms),
	}}, nil
}

// loanRepaid addresses the lender behind the loan's active offer.
func (d *deriver) loanRepaid(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	loan, ok, err := d.loanOf(ctx, network, wasm, "loan repaid")
	if err != nil || !ok {
		return nil, err
	}

	if loan.ActiveOfferID == nil {
		d.skipEvent(ctx, "repaid loan without active offer")
		return nil, nil
	}

	offer, err := d.storage.GetOffer(ctx, network, *loan.ActiveOfferID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "active offer missing from cache")
			return nil, nil
		}
		return nil, err
	}

	return []notify.Notification{{
		Network:   network,
		Recipient: offer.Lender,
		PrimaryID: loan.LoanID,
		SubRef:    offer.GlobalOfferID,
		Type:      NotificationLoanRepaid,
		Preview:   previewOf(loan.AssociatedAssets),
	}}, nil
}

// loanDefaulted addresses the borrower: the lender claimed the collateral
// after the loan term expired unpaid.
func (d *deriver) loanDefaulted(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	loan, ok, err := d.loanOf(ctx, network, wasm, "loan defaulted")
	if err != nil || !ok {
		return nil, err
	}

	return []notify.Notification{{
		Network:   network,
		Recipient: loan.Borrower,
		PrimaryID: loan.LoanID,
		Type:      NotificationLoanDefaulted,
		Preview:   previewOf(loan.AssociatedAssets),
	}}, nil
}

// loanCancelled fans out to every lender with an offer under the withdrawn
// listing.
func (d *deriver) loanCancelled(ctx context.Context, network string, wasm txevents.AttributeBag) ([]notify.Notification, error) {
	loan, ok, err := d.loanOf(ctx, network, wasm, "loan cancelled")
	if err != nil || !ok {
		return nil, err
	}

	offers, err := d.storage.ListOffers(ctx, network, loan.Borrower, loan.LoanID)
	if err != nil {
		return nil, err
	}

	preview := previewOf(loan.AssociatedAssets)
	notifications := make([]notify.Notification, 0, len(offers))
	for _, offer := range offers {
		notifications = append(notifications, notify.Notification{
			Network:   network,
			Recipient: offer.Lender,
			PrimaryID: loan.LoanID,
			SubRef:    offer.GlobalOfferID,
			Type:      NotificationLoanCancelled,
			Preview:   preview,
		})
	}

	return notifications, nil
}

// loanOf resolves the cached loan addressed by the event's borrower and loan
// id attributes. ok=false means the event must be skipped.
func (d *deriver) loanOf(ctx context.Context, network string, wasm txevents.AttributeBag, what string) (Loan, bool, error) {
	borrower, ok := wasm.First(borrowerKey)
	if !ok {
		d.skipEvent(ctx, what+" without borrower")
		return Loan{}, false, nil
	}
	loanID, ok := wasm.Uint64(loanIDKeys...)
	if !ok {
		d.skipEvent(ctx, what+" without loan id")
		return Loan{}, false, nil
	}

	loan, err := d.storage.GetLoan(ctx, network, borrower, loanID)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			d.skipEvent(ctx, "loan missing from cache")
			return Loan{}, false, nil
		}
		return Loan{}, false, err
	}
	return loan, true, nil
}

func (d *deriver) skipEvent(ctx context.Context, reason string) {
	logger.Debug(ctx, "loan event skipped", "reason", reason)
}
