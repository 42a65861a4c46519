package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/Illiquidly/marketwatch/internal/triggerbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// publisherStub records published trigger messages.
type publisherStub struct {
	err      error
	messages []triggerbus.Message
}

func (p *publisherStub) Publish(_ context.Context, msg triggerbus.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// ledgerStub implements txledger.Ledger, recording Flush calls only.
type ledgerStub struct {
	err     error
	flushed []string
}

func (l *ledgerStub) Cursor(context.Context, string, string) (uint64, error) {
	return 0, nil
}

func (l *ledgerStub) Cardinality(context.Context, string, string) (uint64, error) {
	return 0, nil
}

func (l *ledgerStub) FilterNew(_ context.Context, _, _ string, hashes []string) ([]string, error) {
	return hashes, nil
}

func (l *ledgerStub) Commit(context.Context, string, string, []string, uint64) error {
	return nil
}

func (l *ledgerStub) Flush(_ context.Context, domain, network string) error {
	if l.err != nil {
		return l.err
	}
	l.flushed = append(l.flushed, domain+"/"+network)
	return nil
}

func TestPublishTriggerCommand(t *testing.T) {
	run := func(t *testing.T, bus triggerbus.Publisher, args ...string) error {
		t.Helper()
		app := &cli.Command{Commands: []*cli.Command{publishTriggerCommand(bus)}}
		return app.Run(context.Background(), append([]string{"marketwatch"}, args...))
	}

	t.Run("publishes the trigger for the given domain and network", func(t *testing.T) {
		bus := &publisherStub{}

		err := run(t, bus, "trigger", "--network", "testnet", "--domain", "loan")
		require.NoError(t, err)

		require.Len(t, bus.messages, 1)
		assert.Equal(t, triggerbus.Message{
			Kind:    triggerbus.TriggerLoanQuery,
			Network: "testnet",
		}, bus.messages[0])
	})

	t.Run("rejects an unknown domain", func(t *testing.T) {
		bus := &publisherStub{}

		err := run(t, bus, "trigger", "--network", "testnet", "--domain", "auction")
		assert.ErrorContains(t, err, "unknown domain")
		assert.Empty(t, bus.messages)
	})

	t.Run("propagates publish failures", func(t *testing.T) {
		errBus := errors.New("bus unavailable")

		err := run(t, &publisherStub{err: errBus}, "trigger", "--network", "testnet", "--domain", "trade")
		assert.ErrorIs(t, err, errBus)
	})
}

func TestFlushCursorCommand(t *testing.T) {
	run := func(t *testing.T, ledger *ledgerStub, args ...string) error {
		t.Helper()
		app := &cli.Command{Commands: []*cli.Command{flushCursorCommand(ledger)}}
		return app.Run(context.Background(), append([]string{"marketwatch"}, args...))
	}

	t.Run("flushes the ledger for the given pair", func(t *testing.T) {
		ledger := &ledgerStub{}

		err := run(t, ledger, "flush-cursor", "--network", "mainnet", "--domain", "raffle")
		require.NoError(t, err)

		assert.Equal(t, []string{"raffle/mainnet"}, ledger.flushed)
	})

	t.Run("rejects an unknown domain", func(t *testing.T) {
		ledger := &ledgerStub{}

		err := run(t, ledger, "flush-cursor", "--network", "mainnet", "--domain", "auction")
		assert.ErrorContains(t, err, "unknown domain")
		assert.Empty(t, ledger.flushed)
	})
}
