package cli

import (
	"context"
	"os"

	"github.com/Illiquidly/marketwatch/internal/pipeline"
	"github.com/Illiquidly/marketwatch/internal/triggerbus"
	"github.com/Illiquidly/marketwatch/internal/txledger"

	"github.com/urfave/cli/v3"
)

// Run initializes and executes the marketwatch CLI application.
//
// It registers all available commands, including:
//
//   - `start`: Starts the full reconciliation pipeline.
//   - `trigger`: Publishes a manual update trigger for one domain and network.
//   - `flush-cursor`: Resets the seen-transaction ledger for one domain and network.
//
// Parameters:
//   - ctx: Context used to control the lifecycle of the CLI application.
//   - p: The pipeline service implementation used by the start command.
//   - bus: The trigger bus publisher used by the trigger command.
//   - ledger: The transaction ledger used by the flush-cursor command.
func Run(ctx context.Context, p pipeline.Service, bus triggerbus.Publisher, ledger txledger.Ledger) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "marketwatch",
		Description:           "Command-line interface for managing and running the Marketwatch pipeline.",
		Usage:                 "marketwatch [command] [flags]",
		Commands: []*cli.Command{
			startPipelineCommand(p),
			publishTriggerCommand(bus),
			flushCursorCommand(ledger),
		},
	}

	return app.Run(ctx, os.Args)
}
