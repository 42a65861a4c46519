package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/trades"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TradeStore implements trades.Storage.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ trades.Storage = (*TradeStore)(nil)

// NewTradeStore creates a trade store backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

func (s *TradeStore) GetTrade(ctx context.Context, network string, tradeID uint64) (trades.Trade, error) {
	const query = `
		SELECT network, trade_id, owner_address, state, whitelisted_users,
		       associated_assets, last_counter_id, created_at, updated_at
		FROM trades
		WHERE network = $1 AND trade_id = $2`

	var (
		trade   trades.Trade
		rowID   int64
		counter *int64
	)
	err := s.pool.QueryRow(ctx, query, network, int64(tradeID)).Scan(
		&trade.Network, &rowID, &trade.Owner, &trade.State, &trade.WhitelistedUsers,
		&trade.AssociatedAssets, &counter, &trade.CreatedAt, &trade.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return trades.Trade{}, trades.ErrNotCached
		}
		return trades.Trade{}, fmt.Errorf("postgres: get trade %d: %w", tradeID, err)
	}

	trade.TradeID = uint64(rowID)
	if counter != nil {
		id := uint64(*counter)
		trade.LastCounterID = &id
	}
	return trade, nil
}

func (s *TradeStore) UpsertTrade(ctx context.Context, trade trades.Trade) error {
	const query = `
		INSERT INTO trades (
			network, trade_id, owner_address, state, whitelisted_users,
			associated_assets, last_counter_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (network, trade_id) DO UPDATE SET
			owner_address     = EXCLUDED.owner_address,
			state             = EXCLUDED.state,
			whitelisted_users = EXCLUDED.whitelisted_users,
			associated_assets = EXCLUDED.associated_assets,
			last_counter_id   = EXCLUDED.last_counter_id,
			updated_at        = EXCLUDED.updated_at`

	var counter *int64
	if trade.LastCounterID != nil {
		id := int64(*trade.LastCounterID)
		counter = &id
	}

	_, err := s.pool.Exec(ctx, query,
		trade.Network, int64(trade.TradeID), trade.Owner, trade.State, trade.WhitelistedUsers,
		trade.AssociatedAssets, counter, trade.CreatedAt, trade.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trade %d: %w", trade.TradeID, err)
	}
	return nil
}

func (s *TradeStore) GetCounterTrade(ctx context.Context, network string, tradeID, counterID uint64) (trades.CounterTrade, error) {
	const query = `
		SELECT network, trade_id, counter_id, owner_address, state,
		       associated_assets, created_at, updated_at
		FROM counter_trades
		WHERE network = $1 AND trade_id = $2 AND counter_id = $3`

	var (
		counter          trades.CounterTrade
		rowTradeID, rowID int64
	)
	err := s.pool.QueryRow(ctx, query, network, int64(tradeID), int64(counterID)).Scan(
		&counter.Network, &rowTradeID, &rowID, &counter.Owner, &counter.State,
		&counter.AssociatedAssets, &counter.CreatedAt, &counter.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return trades.CounterTrade{}, trades.ErrNotCached
		}
		return trades.CounterTrade{}, fmt.Errorf("postgres: get counter trade %d/%d: %w", tradeID, counterID, err)
	}

	counter.TradeID = uint64(rowTradeID)
	counter.CounterID = uint64(rowID)
	return counter, nil
}

func (s *TradeStore) UpsertCounterTrade(ctx context.Context, counter trades.CounterTrade) error {
	const query = `
		INSERT INTO counter_trades (
			network, trade_id, counter_id, owner_address, state,
			associated_assets, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (network, trade_id, counter_id) DO UPDATE SET
			owner_address     = EXCLUDED.owner_address,
			state             = EXCLUDED.state,
			associated_assets = EXCLUDED.associated_assets,
			updated_at        = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		counter.Network, int64(counter.TradeID), int64(counter.CounterID), counter.Owner, counter.State,
		counter.AssociatedAssets, counter.CreatedAt, counter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert counter trade %d/%d: %w", counter.TradeID, counter.CounterID, err)
	}
	return nil
}

func (s *TradeStore) ListCounterTrades(ctx context.Context, network string, tradeID uint64) ([]trades.CounterTrade, error) {
	const query = `
		SELECT network, trade_id, counter_id, owner_address, state,
		       associated_assets, created_at, updated_at
		FROM counter_trades
		WHERE network = $1 AND trade_id = $2
		ORDER BY counter_id`

	rows, err := s.pool.Query(ctx, query, network, int64(tradeID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list counter trades %d: %w", tradeID, err)
	}
	defer rows.Close()

	var counters []trades.CounterTrade
	for rows.Next() {
		var (
			counter          trades.CounterTrade
			rowTradeID, rowID int64
		)
		if err := rows.Scan(
			&counter.Network, &rowTradeID, &rowID, &counter.Owner, &counter.State,
			&counter.AssociatedAssets, &counter.CreatedAt, &counter.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan counter trade: %w", err)
		}
		counter.TradeID = uint64(rowTradeID)
		counter.CounterID = uint64(rowID)
		counters = append(counters, counter)
	}
	return counters, rows.Err()
}
