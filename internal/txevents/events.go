// Package txevents decodes the structured ABCI logs attached to a CosmWasm
// transaction result into typed, queryable events. It is the only place in
// the system that understands the log wire shape; everything downstream works
// with MessageEvents and AttributeBag values.
package txevents

// EventTypeWasm is the event type under which a CosmWasm contract emits its
// own attributes, including the "action" attribute the notification derivers
// dispatch on.
const EventTypeWasm = "wasm"

// AttributeKeyAction is the wasm attribute key carrying the contract
// execute-message name (e.g. "confirm_counter_trade").
const AttributeKeyAction = "action"

// Attribute is a single key/value pair inside an ABCI event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is one ABCI event: a type plus an ordered attribute list. Attribute
// keys may repeat within a single event.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// MessageLog is the per-message log entry of a transaction result, as
// returned by the LCD tx endpoints under "logs".
type MessageLog struct {
	MsgIndex uint32  `json:"msg_index"`
	Log      string  `json:"log"`
	Events   []Event `json:"events"`
}

// MessageEvents is the parsed form of one MessageLog: events grouped by type,
// with each type's attributes collected into an AttributeBag.
type MessageEvents struct {
	MsgIndex uint32
	Events   map[string]AttributeBag
}

// Wasm returns the bag of contract-emitted attributes for this message, or an
// empty bag when the message produced no wasm event.
func (m MessageEvents) Wasm() AttributeBag {
	bag, ok := m.Events[EventTypeWasm]
	if !ok {
		return AttributeBag{}
	}
	return bag
}

// ParseLogs converts the raw per-message logs of a transaction into
// MessageEvents, preserving message order so downstream fan-out is
// deterministic.
//
// Duplicate attribute keys within one event are collected as a list rather
// than overwritten, and events of the same type within one message are merged
// into a single bag.
func ParseLogs(logs []MessageLog) []MessageEvents {
	parsed := make([]MessageEvents, 0, len(logs))

	for _, log := range logs {
		msg := MessageEvents{
			MsgIndex: log.MsgIndex,
			Events:   make(map[string]AttributeBag, len(log.Events)),
		}

		for _, event := range log.Events {
			bag, ok := msg.Events[event.Type]
			if !ok {
				bag = make(AttributeBag, len(event.Attributes))
				msg.Events[event.Type] = bag
			}

			for _, attr := range event.Attributes {
				bag[attr.Key] = append(bag[attr.Key], attr.Value)
			}
		}

		parsed = append(parsed, msg)
	}

	return parsed
}
