package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v3"
)

// pipelineStub implements pipeline.Service for command tests.
type pipelineStub struct {
	startErr error
	started  chan struct{}
}

func (p *pipelineStub) Start(context.Context) error {
	if p.startErr != nil {
		return p.startErr
	}
	if p.started != nil {
		close(p.started)
	}
	return nil
}

func (p *pipelineStub) Close() {}

func TestStartPipelineCommand(t *testing.T) {
	t.Run("returns the pipeline start error", func(t *testing.T) {
		errBoom := errors.New("redis unreachable")
		app := &cli.Command{
			Commands: []*cli.Command{startPipelineCommand(&pipelineStub{startErr: errBoom})},
		}

		err := app.Run(context.Background(), []string{"marketwatch", "start"})
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("starts the pipeline and blocks for a signal", func(t *testing.T) {
		stub := &pipelineStub{started: make(chan struct{})}
		cmd := startPipelineCommand(stub)

		// The action blocks on the signal channel after a successful start, so
		// run it in the background and only assert that Start was reached.
		go func() {
			_ = cmd.Action(context.Background(), &cli.Command{})
		}()

		<-stub.started
	})
}
