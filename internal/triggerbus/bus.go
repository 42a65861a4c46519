// Package triggerbus defines the wire contract of the update trigger channel
// shared by every publisher (websocket watcher, periodic ticker, manual CLI
// trigger) and every subscriber (the domain listeners).
//
// Delivery is at-least-once with no replay: a subscriber that is down when a
// message is published never sees it. Listeners compensate by polling until
// no new transactions remain on every trigger they do receive.
package triggerbus

import "context"

// Trigger kinds carried in Message.Kind. The values are shared with existing
// deployments and must not change.
const (
	TriggerTradeQuery  = "TRIGGER_P2P_TRADE_QUERY_MSG"
	TriggerLoanQuery   = "TRIGGER_LOAN_QUERY_MSG"
	TriggerRaffleQuery = "TRIGGER_RAFFLE_QUERY_MSG"
)

// Message asks the listener for one contract domain to poll one network for
// new transactions. It is ephemeral and never persisted.
type Message struct {
	Kind    string `json:"message"`
	Network string `json:"network"`
}

// Publisher emits trigger messages onto the bus.
type Publisher interface {
	// Publish sends one trigger message. It returns an error only when the
	// message could not be handed to the underlying channel at all.
	Publish(ctx context.Context, msg Message) error
}

// Subscriber delivers trigger messages published on the bus.
type Subscriber interface {
	// Subscribe returns a channel of incoming trigger messages. The channel
	// is closed when ctx is canceled. Messages published while nobody is
	// subscribed are lost.
	Subscribe(ctx context.Context) (<-chan Message, error)
}
