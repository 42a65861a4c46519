// Package pipeline coordinates the full reconciliation pipeline, combining
// the trigger sources (websocket watcher, periodic ticker) and the domain
// listener engine into a unified lifecycle.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/Illiquidly/marketwatch/internal/chainwatcher"
	"github.com/Illiquidly/marketwatch/internal/listener"
)

// ErrServiceAlreadyStarted is returned if Start is called more than once.
var ErrServiceAlreadyStarted = errors.New("service already started")

// Service defines the pipeline lifecycle entrypoint.
type Service interface {
	// Start launches the listener engine first, then both trigger sources,
	// so no trigger can arrive before a subscriber exists to consume it.
	//
	// Returns ErrServiceAlreadyStarted if Start is called more than once.
	// Call Close to shut down all background routines.
	Start(ctx context.Context) error

	// Close shuts down the pipeline and cancels all active routines. It is
	// safe to call Close even if the service was never started.
	Close()
}

type closeFunc func()

type service struct {
	mu        sync.Mutex // protects lifecycle state
	isStarted bool
	closeFunc closeFunc

	listener listener.Service
	watcher  chainwatcher.Watcher
	ticker   chainwatcher.Ticker
}

// Compile-time check to ensure *service implements the Service interface.
var _ Service = new(service)

func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	if err := s.listener.Start(ctx); err != nil {
		return err
	}

	if err := s.watcher.Start(ctx); err != nil {
		s.listener.Close()
		return err
	}

	if err := s.ticker.Start(ctx); err != nil {
		s.watcher.Close()
		s.listener.Close()
		return err
	}

	s.closeFunc = func() {
		s.ticker.Close()
		s.watcher.Close()
		s.listener.Close()
	}
	s.isStarted = true
	return nil
}

func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}
	s.closeFunc = nil
	s.isStarted = false
}

// New creates a pipeline wiring the trigger sources to the listener engine.
func New(l listener.Service, w chainwatcher.Watcher, t chainwatcher.Ticker) *service {
	return &service{
		listener: l,
		watcher:  w,
		ticker:   t,
	}
}
