// Package txledger tracks which transactions have already been processed for
// each (domain, network) pair, and where the next transaction-search page
// begins.
//
// The ledger keeps two pieces of state per pair: a deduplicating set of seen
// transaction hashes, and an explicit numeric page cursor. The cursor is
// advanced by the full page length only after the page has been fully
// reconciled, so a crash mid-page replays that page (idempotent) instead of
// skipping it. Keeping the cursor separate from the set's cardinality means
// an upstream re-ordering or pruning can cost at most one replayed page, not
// a permanently misaligned offset.
package txledger

import (
	"context"
	"fmt"
)

// Key builds the storage key for a (domain, network) pair. The
// "{domain}-{network}" format is shared with every deployment's existing
// key-value entries and must not change.
func Key(domain, network string) string {
	return fmt.Sprintf("%s-%s", domain, network)
}

// Ledger persists the seen-transaction set and the page cursor for each
// (domain, network) pair.
//
// Cardinality must be exact, never an approximation: the dedup-monotonicity
// guarantees of the polling loop are stated in terms of it. A single polling
// run must Commit a page before computing the next page's cursor.
type Ledger interface {
	// Cursor returns the offset at which the next transaction-search page
	// begins. It is zero for a pair that has never committed a page.
	Cursor(ctx context.Context, domain, network string) (uint64, error)

	// Cardinality returns the exact number of distinct transaction hashes
	// ever committed for the pair.
	Cardinality(ctx context.Context, domain, network string) (uint64, error)

	// FilterNew returns, in input order, the subset of hashes that have not
	// been committed yet.
	FilterNew(ctx context.Context, domain, network string, hashes []string) ([]string, error)

	// Commit records a fully processed page: it adds the page's hashes to
	// the seen set and advances the cursor by pageLen in one atomic step.
	Commit(ctx context.Context, domain, network string, hashes []string, pageLen uint64) error

	// Flush resets both the seen set and the cursor for the pair. This is
	// an administrative operation; the next run re-processes the whole
	// corpus relying on idempotent upserts.
	Flush(ctx context.Context, domain, network string) error
}
