// Package nftmeta maintains the shared CW721 collection metadata sub-cache
// used by every reconciler when resolving associated assets. Reads go to the
// database first and fall back to a contract_info query on-chain; writes are
// idempotent and order-insensitive (last-write-wins), which is acceptable
// because chain state is itself eventually consistent.
package nftmeta

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
)

// ErrCollectionNotCached is returned by Storage when the collection has no
// cached row yet.
var ErrCollectionNotCached = errors.New("collection not cached")

// Collection is the cached metadata of one CW721 contract.
type Collection struct {
	Network   string
	Address   string
	Name      string
	Symbol    string
	UpdatedAt time.Time
}

// Storage persists collection metadata.
type Storage interface {
	// GetCollection returns the cached metadata for the given contract, or
	// ErrCollectionNotCached when no row exists.
	GetCollection(ctx context.Context, network, address string) (Collection, error)

	// UpsertCollection inserts or replaces the collection row.
	UpsertCollection(ctx context.Context, collection Collection) error
}

// Service resolves CW721 collection metadata with a DB-first, chain-fallback
// read-through policy.
type Service interface {
	Collection(ctx context.Context, network, address string) (Collection, error)
}

// contractInfoQuery is the CW721 contract_info query payload.
var contractInfoQuery = json.RawMessage(`{"contract_info":{}}`)

type contractInfoResponse struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type service struct {
	storage Storage
	gw      gateway.Service
}

var _ Service = (*service)(nil)

// Collection returns the metadata for the given CW721 contract, lazily
// creating the cache row from chain state on first sight.
func (s *service) Collection(ctx context.Context, network, address string) (Collection, error) {
	collection, err := s.storage.GetCollection(ctx, network, address)
	if err == nil {
		return collection, nil
	}
	if !errors.Is(err, ErrCollectionNotCached) {
		return Collection{}, err
	}

	raw, err := s.gw.Query(ctx, network, address, contractInfoQuery)
	if err != nil {
		return Collection{}, err
	}

	var info contractInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return Collection{}, err
	}

	collection = Collection{
		Network:   network,
		Address:   address,
		Name:      info.Name,
		Symbol:    info.Symbol,
		UpdatedAt: time.Now(),
	}

	if err := s.storage.UpsertCollection(ctx, collection); err != nil {
		return Collection{}, err
	}

	logger.Debug(ctx, "collection metadata cached from chain",
		"collection.network", network,
		"collection.address", address,
	)
	return collection, nil
}

// New creates a read-through metadata service.
func New(storage Storage, gw gateway.Service) *service {
	return &service{
		storage: storage,
		gw:      gw,
	}
}
