package raffles

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

// Domain plugs the raffle contract into the listener engine.
type Domain struct {
	contracts  map[string]string // network -> contract address
	reconciler *reconciler
	deriver    *deriver
}

var _ listener.Domain = (*Domain)(nil)

func (d *Domain) Name() string        { return DomainName }
func (d *Domain) TriggerKind() string { return triggerbus.TriggerRaffleQuery }

func (d *Domain) ContractAddress(network string) (string, error) {
	addr, ok := d.contracts[network]
	if !ok {
		return "", fmt.Errorf("raffle contract on %q: %w", network, gateway.ErrUnknownNetwork)
	}
	return addr, nil
}

// ExtractIdentifiers collects every raffle referenced by the transaction's
// wasm events, deduplicated. Raffles have no child identifiers: participants
// are merged during reconciliation, not addressed individually.
func (d *Domain) ExtractIdentifiers(events []txevents.MessageEvents) []listener.Identifier {
	var (
		ids  []listener.Identifier
		seen = types.NewSet[uint64]()
	)

	for _, ev := range events {
		raffleID, ok := ev.Wasm().Uint64(raffleIDKeys...)
		if !ok || seen.Contains(raffleID) {
			continue
		}
		seen.Add(raffleID)
		ids = append(ids, listener.Identifier{Primary: raffleID})
	}

	return ids
}

func (d *Domain) Reconcile(ctx context.Context, network string, id listener.Identifier) error {
	contract, err := d.ContractAddress(network)
	if err != nil {
		return err
	}
	return d.reconciler.reconcileRaffle(ctx, network, contract, id.Primary)
}

func (d *Domain) DeriveNotifications(ctx context.Context, network string, tx gateway.TxResponse, events []txevents.MessageEvents) error {
	return d.deriver.derive(ctx, network, tx, events)
}

// New creates the raffle domain with an immutable network-to-contract table.
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
