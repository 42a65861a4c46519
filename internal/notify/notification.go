// Package notify holds the event-sourced notification model shared by the
// trade, loan and raffle derivers, and the dispatcher that persists derived
// notifications.
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the read state of a notification. It is the only field that is
// ever mutated after a notification has been created.
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// Notification is one fact derived from an on-chain action: a single user
// must be told that something happened to an entity they are involved with.
// One transaction may fan out into many notifications.
type Notification struct {
	ID        string          // surrogate id, assigned at dispatch time
	Network   string          // network the action happened on
	Recipient string          // address of the user being notified
	PrimaryID uint64          // trade / loan / raffle id
	SubID     *uint64         // counter trade id, nil for parent-level facts
	SubRef    string          // string child id (loan global offer id), empty otherwise
	Type      string          // domain-specific notification type
	Time      time.Time       // when the notification was derived
	Preview   json.RawMessage // JSON preview of the associated asset, may be nil
	Status    Status
}

// Storage persists notifications into the per-domain notification tables.
type Storage interface {
	// SaveNotifications appends the given notifications to the domain's
	// table. Implementations must tolerate replays of the same triggering
	// transaction without failing (insert-or-ignore on the surrogate key is
	// acceptable; duplicates across re-derivation carry fresh ids).
	SaveNotifications(ctx context.Context, domain string, notifications []Notification) error

	// MarkRead transitions every unread notification addressed to recipient
	// on the given network to StatusRead.
	MarkRead(ctx context.Context, domain, network, recipient string) error
}
