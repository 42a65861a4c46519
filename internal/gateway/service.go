// Package gateway provides rate-limited, bounded-concurrency access to the
// chain's LCD query endpoint. All outbound contract-state queries and
// transaction searches from every domain listener are funneled through one
// gateway so the upstream node's rate limits are respected globally.
//
// The gateway never retries: a failed call surfaces its error to exactly one
// caller, and the polling layer treats any page-fetch failure as "abort this
// run, resume at the next trigger".
package gateway

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// defaultRequestsPerSecond matches the public LCD rate limit headroom
	// the pipeline is tuned for.
	defaultRequestsPerSecond = 9

	// defaultMaxInFlight bounds how many upstream calls may be in flight at
	// once, independent of the token bucket.
	defaultMaxInFlight = 4
)

// Service is the chain query gateway used by reconcilers and listeners.
type Service interface {
	// Query executes a smart contract query through the rate-limited queue.
	Query(ctx context.Context, network, contract string, query json.RawMessage) (json.RawMessage, error)

	// SearchTransactions fetches one page of transactions matching filter
	// through the rate-limited queue.
	SearchTransactions(ctx context.Context, network, filter string, offset, limit uint64) (TxPage, error)
}

type service struct {
	upstream Upstream
	limiter  *rate.Limiter
	inFlight *semaphore.Weighted
}

var _ Service = (*service)(nil)

// acquire blocks until a rate token and an in-flight slot are available, or
// the context is done. The release function must be called once the upstream
// call has finished.
func (s *service) acquire(ctx context.Context) (release func(), err error) {
	if err := s.inFlight.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		s.inFlight.Release(1)
		return nil, err
	}

	return func() { s.inFlight.Release(1) }, nil
}

func (s *service) Query(ctx context.Context, network, contract string, query json.RawMessage) (json.RawMessage, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.upstream.SmartContractQuery(ctx, network, contract, query)
}

func (s *service) SearchTransactions(ctx context.Context, network, filter string, offset, limit uint64) (TxPage, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return TxPage{}, err
	}
	defer release()

	return s.upstream.TxSearch(ctx, network, filter, offset, limit)
}

type config struct {
	requestsPerSecond float64
	maxInFlight       int64
}

// Option configures the gateway service.
type Option func(*config)

// WithRequestsPerSecond sets the sustained upstream request rate.
// Default: 9 requests per second.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *config) {
		c.requestsPerSecond = rps
	}
}

// WithMaxInFlight sets the maximum number of concurrent upstream calls.
// Default: 4.
func WithMaxInFlight(n int64) Option {
	return func(c *config) {
		c.maxInFlight = n
	}
}

// New creates a gateway service around the given upstream client.
func New(upstream Upstream, opts ...Option) *service {
	cfg := config{
		requestsPerSecond: defaultRequestsPerSecond,
		maxInFlight:       defaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		upstream: upstream,
		limiter:  rate.NewLimiter(rate.Limit(cfg.requestsPerSecond), 1),
		inFlight: semaphore.NewWeighted(cfg.maxInFlight),
	}
}
