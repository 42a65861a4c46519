package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstreamStub implements Upstream with pluggable functions.
type upstreamStub struct {
	mu        sync.Mutex
	calls     int
	queryFn   func(ctx context.Context, network, contract string, query json.RawMessage) (json.RawMessage, error)
	txSearchFn func(ctx context.Context, network, filter string, offset, limit uint64) (TxPage, error)
}

func (u *upstreamStub) SmartContractQuery(ctx context.Context, network, contract string, query json.RawMessage) (json.RawMessage, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	return u.queryFn(ctx, network, contract, query)
}

func (u *upstreamStub) TxSearch(ctx context.Context, network, filter string, offset, limit uint64) (TxPage, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	return u.txSearchFn(ctx, network, filter, offset, limit)
}

func TestNew(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		svc := New(&upstreamStub{})

		require.NotNil(t, svc)
		assert.InDelta(t, defaultRequestsPerSecond, float64(svc.limiter.Limit()), 0.001)
	})

	t.Run("applies options", func(t *testing.T) {
		svc := New(&upstreamStub{}, WithRequestsPerSecond(2), WithMaxInFlight(1))

		assert.InDelta(t, 2, float64(svc.limiter.Limit()), 0.001)
	})
}

func TestServiceQuery(t *testing.T) {
	t.Run("forwards result from upstream", func(t *testing.T) {
		want := json.RawMessage(`{"owner":"terra1owner"}`)
		stub := &upstreamStub{
			queryFn: func(_ context.Context, network, contract string, _ json.RawMessage) (json.RawMessage, error) {
				assert.Equal(t, "testnet", network)
				assert.Equal(t, "terra1contract", contract)
				return want, nil
			},
		}

		svc := New(stub, WithRequestsPerSecond(1000))

		got, err := svc.Query(context.Background(), "testnet", "terra1contract", json.RawMessage(`{"trade_info":{"trade_id":5}}`))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("propagates upstream error without retrying", func(t *testing.T) {
		wantErr := errors.New("upstream exploded")
		stub := &upstreamStub{
			queryFn: func(context.Context, string, string, json.RawMessage) (json.RawMessage, error) {
				return nil, wantErr
			},
		}

		svc := New(stub, WithRequestsPerSecond(1000))

		_, err := svc.Query(context.Background(), "testnet", "terra1contract", nil)
		require.ErrorIs(t, err, wantErr)
		assert.Equal(t, 1, stub.calls, "gateway must not retry on its own")
	})

	t.Run("respects context cancellation while queued", func(t *testing.T) {
		stub := &upstreamStub{
			queryFn: func(context.Context, string, string, json.RawMessage) (json.RawMessage, error) {
				return nil, nil
			},
		}

		// One token per ten seconds: the second call has to queue.
		svc := New(stub, WithRequestsPerSecond(0.1))

		_, err := svc.Query(context.Background(), "testnet", "terra1contract", nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = svc.Query(ctx, "testnet", "terra1contract", nil)
		require.Error(t, err)
		assert.Equal(t, 1, stub.calls)
	})
}

func TestServiceSearchTransactions(t *testing.T) {
	t.Run("forwards page and total", func(t *testing.T) {
		stub := &upstreamStub{
			txSearchFn: func(_ context.Context, network, filter string, offset, limit uint64) (TxPage, error) {
				assert.Equal(t, "wasm._contract_address='terra1contract'", filter)
				assert.Equal(t, uint64(0), offset)
				assert.Equal(t, uint64(50), limit)
				return TxPage{
					Txs:   []TxResponse{{TxHash: "AA"}, {TxHash: "BB"}},
					Total: 2,
				}, nil
			},
		}

		svc := New(stub, WithRequestsPerSecond(1000))

		page, err := svc.SearchTransactions(context.Background(), "testnet", "wasm._contract_address='terra1contract'", 0, 50)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), page.Total)
		assert.Len(t, page.Txs, 2)
	})
}
