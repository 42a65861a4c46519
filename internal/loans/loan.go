// Package loans reconciles the NFT-collateral loan contract's state into
// the cache and derives per-user notifications from loan activity. A Loan is
// a borrower's published collateral listing; an Offer is a lender's response
// bid underneath it, addressed by a globally unique id. Accepting one offer
// supersedes all of its siblings.
package loans

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DomainName keys ledger entries, notification tables and logs.
const DomainName = "loan"

// Contract execute-message actions observed in wasm events.
const (
	ActionDepositCollaterals  = "deposit_collaterals"
	ActionMakeOffer           = "make_offer"
	ActionCancelOffer         = "cancel_offer"
	ActionRefuseOffer         = "refuse_offer"
	ActionAcceptOffer         = "accept_offer"
	ActionAcceptLoan          = "accept_loan"
	ActionRepayBorrowedFunds  = "repay_borrowed_funds"
	ActionWithdrawCollaterals = "withdraw_collaterals"
	ActionWithdrawDefaulted   = "withdraw_defaulted_loan"
)

// Notification types derived from loan actions.
const (
	NotificationNewOffer       = "new_offer"
	NotificationOfferAccepted  = "offer_accepted"
	NotificationOfferCancelled = "offer_cancelled"
	NotificationOfferRefused   = "offer_refused"
	NotificationOfferWithdrawn = "offer_withdrawn"
	NotificationLoanAccepted   = "loan_accepted"
	NotificationLoanRepaid     = "loan_repaid"
	NotificationLoanDefaulted  = "loan_defaulted"
	NotificationLoanCancelled  = "loan_cancelled"
)

// Historical attribute key aliases: older contract versions emitted the id
// without the "_id" suffix, and offers under their pre-global name.
var (
	loanIDKeys  = []string{"loan_id", "loan"}
	offerIDKeys = []string{"global_offer_id", "offer_id", "offer"}
)

const borrowerKey = "borrower"

// ErrNotCached is returned by Storage when the requested row does not exist.
var ErrNotCached = errors.New("loan entity not cached")

// Loan is one authoritative snapshot of a collateral listing, keyed by
// (network, borrower, loan id). Loan ids are scoped per borrower by the
// contract, not global. Offers live in their own rows so a loan upsert never
// touches them.
type Loan struct {
	Network          string
	Borrower         string
	LoanID           uint64
	State            string
	Terms            json.RawMessage
	AssociatedAssets json.RawMessage
	ActiveOfferID    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Offer is a lender's bid under a loan, keyed by (network, global offer id).
type Offer struct {
	Network       string
	GlobalOfferID string
	Borrower      string
	LoanID        uint64
	Lender        string
	State         string
	Terms         json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Storage persists loans and offers.
type Storage interface {
	// GetLoan returns the cached loan, or ErrNotCached.
	GetLoan(ctx context.Context, network, borrower string, loanID uint64) (Loan, error)

	// UpsertLoan inserts or replaces the loan row by its natural key,
	// preserving the surrogate id of an existing row.
	UpsertLoan(ctx context.Context, loan Loan) error

	// GetOffer returns the cached offer, or ErrNotCached.
	GetOffer(ctx context.Context, network, globalOfferID string) (Offer, error)

	// UpsertOffer inserts or replaces the offer row.
	UpsertOffer(ctx context.Context, offer Offer) error

	// ListOffers returns every cached offer under the given loan, ordered by
	// global offer id.
	ListOffers(ctx context.Context, network, borrower string, loanID uint64) ([]Offer, error)
}

// previewOf extracts the first collateral asset as a notification preview.
// It returns nil when the asset list is absent or empty.
func previewOf(assets json.RawMessage) json.RawMessage {
	if len(assets) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(assets, &items); err != nil || len(items) == 0 {
		return nil
	}
	return items[0]
}
