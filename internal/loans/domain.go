package loans

import (
	"context"
	"fmt"
	"time"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/listener"
	"github.com/Illiquidly/marketwatch/internal/nftmeta"
	"github.com/Illiquidly/marketwatch/internal/notify"
	"github.com/Illiquidly/marketwatch/internal/pkg/types"
	"github.com/Illiquidly/marketwatch/internal/triggerbus"
	"github.com/Illiquidly/marketwatch/internal/txevents"
)

// Domain plugs the loan contract into the listener engine.
type Domain struct {
	contracts  map[string]string // network -> contract address
	reconciler *reconciler
	deriver    *deriver
}

var _ listener.Domain = (*Domain)(nil)

func (d *Domain) Name() string        { return DomainName }
func (d *Domain) TriggerKind() string { return triggerbus.TriggerLoanQuery }

func (d *Domain) ContractAddress(network string) (string, error) {
	addr, ok := d.contracts[network]
	if !ok {
		return "", fmt.Errorf("loan contract on %q: %w", network, gateway.ErrUnknownNetwork)
	}
	return addr, nil
}

// ExtractIdentifiers collects every loan and offer referenced by the
// transaction's wasm events, deduplicated, each loan ordered before the
// offers underneath it so fan-out reads fresh parent state. Loans are
// addressed by (borrower, loan id), offers by their global string id alone.
func (d *Domain) ExtractIdentifiers(events []txevents.MessageEvents) []listener.Identifier {
	var (
		ids  []listener.Identifier
		seen = types.NewSet[string]()
	)

	add := func(key string, id listener.Identifier) {
		if seen.Contains(key) {
			return
		}
		seen.Add(key)
		ids = append(ids, id)
	}

	for _, ev := range events {
		wasm := ev.Wasm()

		borrower, hasBorrower := wasm.First(borrowerKey)
		loanID, hasLoanID := wasm.Uint64(loanIDKeys...)
		if hasBorrower && hasLoanID {
			add(fmt.Sprintf("loan/%s/%d", borrower, loanID), listener.Identifier{
				Primary: loanID,
				Owner:   borrower,
			})
		}

		if offerID, ok := wasm.First(offerIDKeys...); ok {
			add("offer/"+offerID, listener.Identifier{Ref: offerID})
		}
	}

	return ids
}

func (d *Domain) Reconcile(ctx context.Context, network string, id listener.Identifier) error {
	contract, err := d.ContractAddress(network)
	if err != nil {
		return err
	}

	if id.Ref != "" {
		return d.reconciler.reconcileOffer(ctx, network, contract, id.Ref)
	}
	return d.reconciler.reconcileLoan(ctx, network, contract, id.Owner, id.Primary)
}

func (d *Domain) DeriveNotifications(ctx context.Context, network string, tx gateway.TxResponse, events []txevents.MessageEvents) error {
	return d.deriver.derive(ctx, network, tx, events)
}

// New creates the loan domain with an immutable network-to-contract table.
func New(contracts map[string]string, storage Storage, gw gateway.Service, metadata nftmeta.Service, dispatcher notify.Dispatcher) *Domain {
	return &Domain{
		contracts: contracts,
		reconciler: &reconciler{
			storage:  storage,
			gw:       gw,
			metadata: metadata,
			now:      time.Now,
		},
		deriver: &deriver{
			storage:    storage,
			dispatcher: dispatcher,
		},
	}
}
