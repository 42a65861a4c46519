package notify

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/pkg/resilience/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type storageStub struct {
	saved    map[string][]Notification
	failures int
}

func newStorageStub() *storageStub {
	return &storageStub{saved: make(map[string][]Notification)}
}

func (s *storageStub) SaveNotifications(_ context.Context, domain string, notifications []Notification) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("storage unavailable")
	}
	s.saved[domain] = append(s.saved[domain], notifications...)
	return nil
}

func (s *storageStub) MarkRead(context.Context, string, string, string) error {
	return nil
}

func TestDispatcherDispatch(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stamps id, time and unread status", func(t *testing.T) {
		storage := newStorageStub()
		d := New(storage, WithClock(func() time.Time { return frozen }))

		err := d.Dispatch(ctx, "trade", []Notification{
			{Network: "testnet", Recipient: "terra1owner", PrimaryID: 5, Type: "new_counter_trade"},
		})
		require.NoError(t, err)

		require.Len(t, storage.saved["trade"], 1)
		got := storage.saved["trade"][0]
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, StatusUnread, got.Status)
		assert.Equal(t, frozen, got.Time)
	})

	t.Run("empty slice is a no-op", func(t *testing.T) {
		storage := newStorageStub()
		d := New(storage)

		require.NoError(t, d.Dispatch(ctx, "trade", nil))
		assert.Empty(t, storage.saved)
	})

	t.Run("retries transient storage failures when configured", func(t *testing.T) {
		storage := newStorageStub()
		storage.failures = 1

		d := New(storage, WithRetry(retry.New(retry.WithAttempts(3), retry.WithDelay(time.Millisecond))))

		err := d.Dispatch(ctx, "loan", []Notification{
			{Network: "testnet", Recipient: "terra1lender", PrimaryID: 2, Type: "offer_accepted"},
		})
		require.NoError(t, err)
		assert.Len(t, storage.saved["loan"], 1)
	})

	t.Run("surfaces persistent storage failure", func(t *testing.T) {
		storage := newStorageStub()
		storage.failures = 10

		d := New(storage)

		err := d.Dispatch(ctx, "loan", []Notification{{Recipient: "terra1x", Type: "new_offer"}})
		assert.Error(t, err)
	})
}
