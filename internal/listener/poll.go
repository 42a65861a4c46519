package listener

import (
	"context"
	"errors"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/pkg/types"
	"github.com/Illiquidly/marketwatch/internal/txevents"
)

// eventFilter builds the transaction-search event filter matching every
// execution of the given contract.
func eventFilter(contract string) string {
	return fmt.Sprintf("wasm._contract_address='%s'", contract)
}

// poll runs the page loop for one (domain, network) pair until the corpus is
// exhausted or an error aborts the run.
//
// Ordering guarantees, in service of crash safety: a page's hashes and the
// cursor advance are committed only after every reconciliation and
// notification derivation for that page has completed. A crash mid-page
// therefore replays the page (idempotent upserts) rather than losing it.
// Pages are strictly sequential; each page's offset depends on the previous
// page's committed cursor.
func (s *service) poll(ctx context.Context, domain Domain, network string) error {
	contract, err := domain.ContractAddress(network)
	if err != nil {
		return err
	}
	filter := eventFilter(contract)

	for {
		offset, err := s.ledger.Cursor(ctx, domain.Name(), network)
		if err != nil {
			return err
		}

		page, err := s.gw.SearchTransactions(ctx, network, filter, offset, s.pageLimit)
		if err != nil {
			return err
		}

		if len(page.Txs) == 0 {
			return nil
		}

		hashes := make([]string, 0, len(page.Txs))
		for _, tx := range page.Txs {
			hashes = append(hashes, tx.TxHash)
		}

		fresh, err := s.ledger.FilterNew(ctx, domain.Name(), network, hashes)
		if err != nil {
			return err
		}
		freshSet := types.NewSet(fresh...)

		for _, tx := range page.Txs {
			if !freshSet.Contains(tx.TxHash) {
				continue
			}
			if err := s.processTransaction(ctx, domain, network, tx); err != nil {
				return err
			}
		}

		if err := s.ledger.Commit(ctx, domain.Name(), network, fresh, uint64(len(page.Txs))); err != nil {
			return err
		}

		logger.Info(ctx, "page processed",
			"listener.domain", domain.Name(),
			"listener.network", network,
			"page.offset", offset,
			"page.size", len(page.Txs),
			"page.fresh", len(fresh),
			"page.total", page.Total,
		)

		if offset+uint64(len(page.Txs)) >= page.Total {
			return nil
		}
	}
}

// processTransaction parses one fresh transaction, reconciles every entity
// it references, then derives notifications from its events.
//
// Entities are reconciled strictly sequentially: counter-objects belong to
// the same parent and their notification fan-out reads fresh parent state,
// so identifier-level parallelism is deliberately kept at one.
func (s *service) processTransaction(ctx context.Context, domain Domain, network string, tx gateway.TxResponse) error {
	events := txevents.ParseLogs(tx.Logs)

	for _, id := range domain.ExtractIdentifiers(events) {
		err := domain.Reconcile(ctx, network, id)
		if err == nil {
			continue
		}

		if errors.Is(err, gateway.ErrNotFound) {
			logger.Warn(ctx, "entity not resolvable on-chain, skipping",
				"listener.domain", domain.Name(),
				"listener.network", network,
				"entity.id", id.Primary,
				"entity.ref", id.Ref,
				"tx.hash", tx.TxHash,
			)
			continue
		}

		return err
	}

	return domain.DeriveNotifications(ctx, network, tx, events)
}
