package trades

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

// Domain plugs the trade contract into the listener engine.
type Domain struct {
	contracts  map[string]string // network -> contract address
	reconciler *reconciler
	deriver    *deriver
}

var _ listener.Domain = (*Domain)(nil)

func (d *Domain) Name() string        { return DomainName }
func (d *Domain) TriggerKind() string { return triggerbus.TriggerTradeQuery }

func (d *Domain) ContractAddress(network string) (string, error) {
	addr, ok := d.contracts[network]
	if !ok {
		return "", fmt.Errorf("trade contract on %q: %w", network, gateway.ErrUnknownNetwork)
	}
	return addr, nil
}

// ExtractIdentifiers collects every trade and counter trade referenced by
// the transaction's wasm events, deduplicated, each parent ordered before
// its children so fan-out reads fresh parent state.
func (d *Domain) ExtractIdentifiers(events []txevents.MessageEvents) []listener.Identifier {
	var (
		ids  []listener.Identifier
		seen = types.NewSet[string]()
	)

	add := func(id listener.Identifier) {
		key := fmt.Sprintf("%d", id.Primary)
		if id.Sub != nil {
			key = fmt.Sprintf("%d/%d", id.Primary, *id.Sub)
		}
		if seen.Contains(key) {
			return
		}
		seen.Add(key)
		ids = append(ids, id)
	}

	for _, ev := range events {
		wasm := ev.Wasm()

		tradeID, ok := wasm.Uint64(tradeIDKeys...)
		if !ok {
			continue
		}
		add(listener.Identifier{Primary: tradeID})

		if counterID, ok := wasm.Uint64(counterIDKeys...); ok {
			add(listener.WithSub(tradeID, counterID))
		}
	}

	return ids
}

func (d *Domain) Reconcile(ctx context.Context, network string, id listener.Identifier) error {
	contract, err := d.ContractAddress(network)
	if err != nil {
		return err
	}

	if id.Sub != nil {
		return d.reconciler.reconcileCounterTrade(ctx, network, contract, id.Primary, *id.Sub)
	}
	return d.reconciler.reconcileTrade(ctx, network, contract, id.Primary)
}

func (d *Domain) DeriveNotifications(ctx context.Context, network string, tx gateway.TxResponse, events []txevents.MessageEvents) error {
	return d.deriver.derive(ctx, network, tx, events)
}

// New creates the trade domain with an immutable network-to-contract table.
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
