package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/Illiquidly/marketwatch/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// componentStub records lifecycle calls and optionally fails on Start.
type componentStub struct {
	startErr error
	started  int
	closed   int
}

func (c *componentStub) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.started++
	return nil
}

func (c *componentStub) Close() {
	c.closed++
}

func TestService(t *testing.T) {
	t.Run("starts and closes every component", func(t *testing.T) {
		l, w, tk := &componentStub{}, &componentStub{}, &componentStub{}
		svc := New(l, w, tk)

		require.NoError(t, svc.Start(context.Background()))
		svc.Close()

		assert.Equal(t, 1, l.started)
		assert.Equal(t, 1, w.started)
		assert.Equal(t, 1, tk.started)
		assert.Equal(t, 1, l.closed)
		assert.Equal(t, 1, w.closed)
		assert.Equal(t, 1, tk.closed)
	})

	t.Run("double start fails", func(t *testing.T) {
		svc := New(&componentStub{}, &componentStub{}, &componentStub{})

		require.NoError(t, svc.Start(context.Background()))
		defer svc.Close()

		assert.ErrorIs(t, svc.Start(context.Background()), ErrServiceAlreadyStarted)
	})

	t.Run("rolls back started components when one fails", func(t *testing.T) {
		errBoom := errors.New("boom")
		l, w := &componentStub{}, &componentStub{}
		tk := &componentStub{startErr: errBoom}
		svc := New(l, w, tk)

		assert.ErrorIs(t, svc.Start(context.Background()), errBoom)

		assert.Equal(t, 1, l.closed)
		assert.Equal(t, 1, w.closed)
		assert.Equal(t, 0, tk.closed)

		// A failed start leaves the service restartable.
		tk.startErr = nil
		require.NoError(t, svc.Start(context.Background()))
		svc.Close()
	})

	t.Run("close before start is a no-op", func(t *testing.T) {
		l := &componentStub{}
		svc := New(l, &componentStub{}, &componentStub{})

		svc.Close()

		assert.Zero(t, l.closed)
	})
}
