package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Illiquidly/marketwatch/internal/pipeline"

	"github.com/urfave/cli/v3"
)

// startPipelineCommand returns a CLI command that starts the full
// reconciliation pipeline: the websocket watcher, the periodic ticker, and the
// domain listeners.
//
// Usage example:
//
//	marketwatch start
//
// The process runs indefinitely until it receives an interrupt (SIGINT or SIGTERM).
func startPipelineCommand(p pipeline.Service) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts the reconciliation pipeline including trigger sources and domain listeners.",
		Usage:       "Initializes and runs the full pipeline. Terminates gracefully on Ctrl+C or termination signals.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			if err := p.Start(ctx); err != nil {
				return err
			}
			defer p.Close()

			<-quit
			return nil
		},
	}
}
