package notify

import (
	"context"
	"time"

	"github.com/Illiquidly/marketwatch/internal/pkg/logger"
	"github.com/Illiquidly/marketwatch/internal/pkg/resilience/retry"

	"github.com/google/uuid"
)

// Dispatcher stamps and persists derived notifications.
type Dispatcher interface {
	// Dispatch assigns ids, timestamps and the unread status to the given
	// notifications and writes them through Storage. An empty slice is a
	// no-op.
	Dispatch(ctx context.Context, domain string, notifications []Notification) error
}

type dispatcher struct {
	storage Storage
	retry   retry.Retry
	now     func() time.Time
}

var _ Dispatcher = (*dispatcher)(nil)

func (d *dispatcher) Dispatch(ctx context.Context, domain string, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	now := d.now()
	for i := range notifications {
		notifications[i].ID = uuid.NewString()
		notifications[i].Status = StatusUnread
		if notifications[i].Time.IsZero() {
			notifications[i].Time = now
		}
	}

	save := func() error {
		return d.storage.SaveNotifications(ctx, domain, notifications)
	}

	var err error
	if d.retry != nil {
		err = d.retry.Execute(ctx, save)
	} else {
		err = save()
	}
	if err != nil {
		return err
	}

	logger.Debug(ctx, "notifications dispatched",
		"notify.domain", domain,
		"notify.count", len(notifications),
	)
	return nil
}

type config struct {
	retry retry.Retry
	now   func() time.Time
}

// Option configures the dispatcher.
type Option func(*config)

// WithRetry lets transient storage failures be retried before the derivation
// pass gives up on a page.
func WithRetry(r retry.Retry) Option {
	return func(c *config) {
		c.retry = r
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New creates a Dispatcher around the given storage.
func New(storage Storage, opts ...Option) *dispatcher {
	cfg := config{
		retry: nil,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &dispatcher{
		storage: storage,
		retry:   cfg.retry,
		now:     cfg.now,
	}
}
