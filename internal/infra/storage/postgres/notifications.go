package postgres

import (
	"context"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/notify"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notificationTables maps domain names to their notification tables. Table
// names cannot be bound as query parameters, so only these fixed identifiers
// are ever interpolated.
var notificationTables = map[string]string{
	"trade":  "trade_notifications",
	"loan":   "loan_notifications",
	"raffle": "raffle_notifications",
}

// NotificationStore implements notify.Storage across the per-domain
// notification tables.
type NotificationStore struct {
	pool *pgxpool.Pool
}

var _ notify.Storage = (*NotificationStore)(nil)

// NewNotificationStore creates a notification store backed by the given
// connection pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

func (s *NotificationStore) table(domain string) (string, error) {
	table, ok := notificationTables[domain]
	if !ok {
		return "", fmt.Errorf("postgres: no notification table for domain %q", domain)
	}
	return table, nil
}

// SaveNotifications appends the notifications to the domain's table. Replays
// of the same surrogate id are ignored.
func (s *NotificationStore) SaveNotifications(ctx context.Context, domain string, notifications []notify.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	table, err := s.table(domain)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, network, recipient, primary_id, sub_id, sub_ref,
			type, time, preview, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`, table)

	batch := &pgx.Batch{}
	for _, n := range notifications {
		var subID *int64
		if n.SubID != nil {
			id := int64(*n.SubID)
			subID = &id
		}
		var subRef *string
		if n.SubRef != "" {
			subRef = &n.SubRef
		}

		batch.Queue(query,
			n.ID, n.Network, n.Recipient, int64(n.PrimaryID), subID, subRef,
			n.Type, n.Time, n.Preview, string(n.Status),
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: save %s notifications: %w", domain, err)
	}
	return nil
}

// MarkRead transitions every unread notification addressed to recipient on
// the given network to read.
func (s *NotificationStore) MarkRead(ctx context.Context, domain, network, recipient string) error {
	table, err := s.table(domain)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = $1
		WHERE network = $2 AND recipient = $3 AND status = $4`, table)

	_, err = s.pool.Exec(ctx, query,
		string(notify.StatusRead), network, recipient, string(notify.StatusUnread),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark %s notifications read: %w", domain, err)
	}
	return nil
}
