package cli

import (
	"context"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/loans"
	"github.com/Illiquidly/marketwatch/internal/raffles"
	"github.com/Illiquidly/marketwatch/internal/trades"
	"github.com/Illiquidly/marketwatch/internal/triggerbus"
	"github.com/Illiquidly/marketwatch/internal/txledger"

	"github.com/urfave/cli/v3"
)

// triggerKinds maps the user-facing domain names to the trigger kinds
// understood by the listeners.
var triggerKinds = map[string]string{
	trades.DomainName:  triggerbus.TriggerTradeQuery,
	loans.DomainName:   triggerbus.TriggerLoanQuery,
	raffles.DomainName: triggerbus.TriggerRaffleQuery,
}

// publishTriggerCommand returns a CLI command that publishes a single manual
// update trigger, forcing the listener for one domain to poll one network now
// instead of waiting for the next websocket event or periodic tick.
//
// Usage example:
//
//	marketwatch trigger --network testnet --domain trade
//
// A running `start` process must be subscribed for the trigger to have any
// effect; the bus does not replay missed messages.
func publishTriggerCommand(bus triggerbus.Publisher) *cli.Command {
	return &cli.Command{
		Name:        "trigger",
		Description: "Publish a manual update trigger for one contract domain on one network.",
		Usage:       "Forces an immediate reconciliation poll. Must provide both network and domain.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "network",
				Usage:    "Network name as configured in the networks file (e.g., testnet, mainnet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "domain",
				Usage:    "Contract domain to poll (trade, loan or raffle)",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var (
				network = c.String("network")
				domain  = c.String("domain")
			)

			kind, ok := triggerKinds[domain]
			if !ok {
				return fmt.Errorf("unknown domain %q", domain)
			}

			return bus.Publish(ctx, triggerbus.Message{Kind: kind, Network: network})
		},
	}
}

// flushCursorCommand returns a CLI command that resets the seen-transaction
// set and page cursor for one (domain, network) pair, so that the next polling
// run re-processes the contract's whole transaction history.
//
// Usage example:
//
//	marketwatch flush-cursor --network testnet --domain raffle
func flushCursorCommand(ledger txledger.Ledger) *cli.Command {
	return &cli.Command{
		Name:        "flush-cursor",
		Description: "Reset the seen-transaction ledger for one contract domain on one network.",
		Usage:       "Forces a full history replay on the next poll. Must provide both network and domain.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "network",
				Usage:    "Network name as configured in the networks file (e.g., testnet, mainnet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "domain",
				Usage:    "Contract domain to reset (trade, loan or raffle)",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			var (
				network = c.String("network")
				domain  = c.String("domain")
			)

			if _, ok := triggerKinds[domain]; !ok {
				return fmt.Errorf("unknown domain %q", domain)
			}

			return ledger.Flush(ctx, domain, network)
		},
	}
}
