// Package listener implements the event-driven reconciliation engine: one
// parameterized poll loop shared by every contract domain, woken by trigger
// messages and bounded by a per-(domain, network) reentrancy guard.
//
// The state machine per (domain, network) pair is:
//
//	Idle -> Polling   on trigger, guard acquired
//	Polling -> Idle   on empty page, offset reaching the corpus total,
//	                  gateway error, or run deadline
//
// There is no retry-with-backoff inside the loop. Recovery is driven by the
// next external trigger (websocket event or periodic ticker), which bounds
// worst-case staleness instead of guaranteeing immediate convergence.
package listener

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/Illiquidly/marketwatch/internal/gateway"
	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/pkg/x/chflow"
	"github.com/Illiquidly/marketwatch/internal/triggerbus"
	"github.com/Illiquidly/marketwatch/internal/txledger"
)

// ErrServiceAlreadyStarted is returned by Start when the service is running.
var ErrServiceAlreadyStarted = errors.New("service already started")

const (
	// defaultSettleDelay gives upstream read replicas time to catch up to
	// the writing full node before the first page fetch.
	defaultSettleDelay = 2 * time.Second

	// defaultRunDeadline bounds one whole poll run. A run that exceeds it
	// is logged as partial; the cursor stays at the last committed page.
	defaultRunDeadline = 5 * time.Minute

	defaultPageLimit = 50
)

type closeFunc func()

// Service consumes trigger messages and drives the per-domain poll loops.
type Service interface {
	Start(ctx context.Context) error
	Close()
}

type service struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc closeFunc
	running   sync.WaitGroup

	domains  map[string]Domain // keyed by trigger kind
	networks []string

	subscriber triggerbus.Subscriber
	gw         gateway.Service
	ledger     txledger.Ledger
	guard      *inflightGuard

	settleDelay time.Duration
	runDeadline time.Duration
	pageLimit   uint64
}

var _ Service = (*service)(nil)

// Start subscribes to the trigger bus and dispatches poll runs until ctx is
// canceled or Close is called.
func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	messages, err := s.subscriber.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}

	go s.consumeTriggers(ctx, messages)

	s.closeFunc = closeFunc(cancel)
	s.isStarted = true
	return nil
}

// Close stops trigger consumption and waits for in-flight poll runs.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}
	s.running.Wait()
	s.isStarted = false
	s.closeFunc = nil
}

// consumeTriggers reads bus messages and spawns one poll run per accepted
// trigger. It returns when ctx is canceled or the subscription closes.
func (s *service) consumeTriggers(ctx context.Context, messages <-chan triggerbus.Message) {
	for {
		msg, ok := chflow.Receive(ctx, messages)
		if !ok {
			return
		}

		domain, ok := s.domains[msg.Kind]
		if !ok {
			logger.Warn(ctx, "trigger for unknown domain dropped", "trigger.kind", msg.Kind)
			continue
		}

		if !slices.Contains(s.networks, msg.Network) {
			logger.Warn(ctx, "trigger for unknown network dropped",
				"trigger.kind", msg.Kind,
				"trigger.network", msg.Network,
			)
			continue
		}

		s.running.Add(1)
		go func() {
			defer s.running.Done()
			s.handleTrigger(ctx, domain, msg.Network)
		}()
	}
}

// handleTrigger runs one guarded poll run for (domain, network). Triggers
// arriving while a run for the same pair is in flight are dropped.
func (s *service) handleTrigger(ctx context.Context, domain Domain, network string) {
	if !s.guard.tryAcquire(domain.Name(), network) {
		logger.Debug(ctx, "poll already in flight, trigger dropped",
			"listener.domain", domain.Name(),
			"listener.network", network,
		)
		return
	}
	defer s.guard.release(domain.Name(), network)

	if s.settleDelay > 0 {
		timer := time.NewTimer(s.settleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.runDeadline)
	defer cancel()

	err := s.poll(runCtx, domain, network)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		logger.Warn(ctx, "poll run hit deadline, completion is partial",
			"listener.domain", domain.Name(),
			"listener.network", network,
		)
	default:
		logger.Error(ctx, "poll run aborted, resuming on next trigger",
			"listener.domain", domain.Name(),
			"listener.network", network,
			"error", err,
		)
	}
}

type config struct {
	settleDelay time.Duration
	runDeadline time.Duration
	pageLimit   uint64
}

// Option configures the listener service.
type Option func(*config)

// WithSettleDelay sets the delay between trigger receipt and the first page
// fetch. Default: 2 seconds.
func WithSettleDelay(d time.Duration) Option {
	return func(c *config) {
		c.settleDelay = d
	}
}

// WithRunDeadline sets the overall deadline for one poll run.
// Default: 5 minutes.
func WithRunDeadline(d time.Duration) Option {
	return func(c *config) {
		c.runDeadline = d
	}
}

// WithPageLimit sets the transaction-search page size. Default: 50.
func WithPageLimit(n uint64) Option {
	return func(c *config) {
		c.pageLimit = n
	}
}

// New creates a listener service for the given domains and networks.
func New(domains []Domain, networks []string, subscriber triggerbus.Subscriber, gw gateway.Service, ledger txledger.Ledger, opts ...Option) *service {
	cfg := config{
		settleDelay: defaultSettleDelay,
		runDeadline: defaultRunDeadline,
		pageLimit:   defaultPageLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	byTrigger := make(map[string]Domain, len(domains))
	for _, domain := range domains {
		byTrigger[domain.TriggerKind()] = domain
	}

	return &service{
		domains:     byTrigger,
		networks:    networks,
		subscriber:  subscriber,
		gw:          gw,
		ledger:      ledger,
		guard:       newInflightGuard(),
		settleDelay: cfg.settleDelay,
		runDeadline: cfg.runDeadline,
		pageLimit:   cfg.pageLimit,
	}
}
