package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/nftmeta"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CollectionStore implements nftmeta.Storage.
type CollectionStore struct {
	pool *pgxpool.Pool
}

var _ nftmeta.Storage = (*CollectionStore)(nil)

// NewCollectionStore creates a collection metadata store backed by the given
// connection pool.
func NewCollectionStore(pool *pgxpool.Pool) *CollectionStore {
	return &CollectionStore{pool: pool}
}

func (s *CollectionStore) GetCollection(ctx context.Context, network, address string) (nftmeta.Collection, error) {
	const query = `
		SELECT network, address, name, symbol, updated_at
		FROM nft_collections
		WHERE network = $1 AND address = $2`

	var collection nftmeta.Collection
	err := s.pool.QueryRow(ctx, query, network, address).Scan(
		&collection.Network, &collection.Address, &collection.Name,
		&collection.Symbol, &collection.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nftmeta.Collection{}, nftmeta.ErrCollectionNotCached
		}
		return nftmeta.Collection{}, fmt.Errorf("postgres: get collection %s: %w", address, err)
	}
	return collection, nil
}

func (s *CollectionStore) UpsertCollection(ctx context.Context, collection nftmeta.Collection) error {
	const query = `
		INSERT INTO nft_collections (network, address, name, symbol, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network, address) DO UPDATE SET
			name       = EXCLUDED.name,
			symbol     = EXCLUDED.symbol,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		collection.Network, collection.Address, collection.Name,
		collection.Symbol, collection.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert collection %s: %w", collection.Address, err)
	}
	return nil
}
