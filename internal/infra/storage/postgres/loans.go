package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/loans"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LoanStore implements loans.Storage.
type LoanStore struct {
	pool *pgxpool.Pool
}

var _ loans.Storage = (*LoanStore)(nil)

// NewLoanStore creates a loan store backed by the given connection pool.
func NewLoanStore(pool *pgxpool.Pool) *LoanStore {
	return &LoanStore{pool: pool}
}

func (s *LoanStore) GetLoan(ctx context.Context, network, borrower string, loanID uint64) (loans.Loan, error) {
	const query = `
		SELECT network, borrower, loan_id, state, terms,
		       associated_assets, active_offer_id, created_at, updated_at
		FROM loans
		WHERE network = $1 AND borrower = $2 AND loan_id = $3`

	var (
		loan  loans.Loan
		rowID int64
	)
	err := s.pool.QueryRow(ctx, query, network, borrower, int64(loanID)).Scan(
		&loan.Network, &loan.Borrower, &rowID, &loan.State, &loan.Terms,
		&loan.AssociatedAssets, &loan.ActiveOfferID, &loan.CreatedAt, &loan.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loans.Loan{}, loans.ErrNotCached
		}
		return loans.Loan{}, fmt.Errorf("postgres: get loan %s/%d: %w", borrower, loanID, err)
	}

	loan.LoanID = uint64(rowID)
	return loan, nil
}

func (s *LoanStore) UpsertLoan(ctx context.Context, loan loans.Loan) error {
	const query = `
		INSERT INTO loans (
			network, borrower, loan_id, state, terms,
			associated_assets, active_offer_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (network, borrower, loan_id) DO UPDATE SET
			state             = EXCLUDED.state,
			terms             = EXCLUDED.terms,
			associated_assets = EXCLUDED.associated_assets,
			active_offer_id   = EXCLUDED.active_offer_id,
			updated_at        = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		loan.Network, loan.Borrower, int64(loan.LoanID), loan.State, loan.Terms,
		loan.AssociatedAssets, loan.ActiveOfferID, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert loan %s/%d: %w", loan.Borrower, loan.LoanID, err)
	}
	return nil
}

func (s *LoanStore) GetOffer(ctx context.Context, network, globalOfferID string) (loans.Offer, error) {
	const query = `
		SELECT network, global_offer_id, borrower, loan_id, lender,
		       state, terms, created_at, updated_at
		FROM loan_offers
		WHERE network = $1 AND global_offer_id = $2`

	var (
		offer loans.Offer
		rowID int64
	)
	err := s.pool.QueryRow(ctx, query, network, globalOfferID).Scan(
		&offer.Network, &offer.GlobalOfferID, &offer.Borrower, &rowID, &offer.Lender,
		&offer.State, &offer.Terms, &offer.CreatedAt, &offer.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return loans.Offer{}, loans.ErrNotCached
		}
		return loans.Offer{}, fmt.Errorf("postgres: get offer %s: %w", globalOfferID, err)
	}

	offer.LoanID = uint64(rowID)
	return offer, nil
}

func (s *LoanStore) UpsertOffer(ctx context.Context, offer loans.Offer) error {
	const query = `
		INSERT INTO loan_offers (
			network, global_offer_id, borrower, loan_id, lender,
			state, terms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (network, global_offer_id) DO UPDATE SET
			borrower   = EXCLUDED.borrower,
			loan_id    = EXCLUDED.loan_id,
			lender     = EXCLUDED.lender,
			state      = EXCLUDED.state,
			terms      = EXCLUDED.terms,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		offer.Network, offer.GlobalOfferID, offer.Borrower, int64(offer.LoanID), offer.Lender,
		offer.State, offer.Terms, offer.CreatedAt, offer.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert offer %s: %w", offer.GlobalOfferID, err)
	}
	return nil
}

func (s *LoanStore) ListOffers(ctx context.Context, network, borrower string, loanID uint64) ([]loans.Offer, error) {
	const query = `
		SELECT network, global_offer_id, borrower, loan_id, lender,
		       state, terms, created_at, updated_at
		FROM loan_offers
		WHERE network = $1 AND borrower = $2 AND loan_id = $3
		ORDER BY global_offer_id`

	rows, err := s.pool.Query(ctx, query, network, borrower, int64(loanID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers %s/%d: %w", borrower, loanID, err)
	}
	defer rows.Close()

	var offers []loans.Offer
	for rows.Next() {
		var (
			offer loans.Offer
			rowID int64
		)
		if err := rows.Scan(
			&offer.Network, &offer.GlobalOfferID, &offer.Borrower, &rowID, &offer.Lender,
			&offer.State, &offer.Terms, &offer.CreatedAt, &offer.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan offer: %w", err)
		}
		offer.LoanID = uint64(rowID)
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}
