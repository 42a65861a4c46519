package txevents

import "strconv"

// AttributeBag maps an attribute key to every value emitted under that key
// within one message's events of a given type.
//
// Contract attribute keys have changed names across contract versions (an id
// may appear under either "trade_id" or the older "trade"), so lookups accept
// a list of candidate keys and prefer the first one present. Absent keys are
// reported via the ok result, never by panicking.
type AttributeBag map[string][]string

// First returns the first value recorded under the first candidate key that
// is present in the bag. ok is false when none of the keys are present or the
// matched key has no values.
func (b AttributeBag) First(keys ...string) (string, bool) {
	for _, key := range keys {
		values, ok := b[key]
		if ok && len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// All returns every value recorded under the first candidate key present in
// the bag. It returns nil when none of the keys are present.
func (b AttributeBag) All(keys ...string) []string {
	for _, key := range keys {
		if values, ok := b[key]; ok {
			return values
		}
	}
	return nil
}

// Uint64 parses the first value of the first present candidate key as an
// unsigned integer. ok is false when no key is present or the value does not
// parse, so a malformed event degrades to "skip this event" upstream.
func (b AttributeBag) Uint64(keys ...string) (uint64, bool) {
	raw, ok := b.First(keys...)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Action returns the wasm "action" attribute, identifying which contract
// execute-message produced this event.
func (b AttributeBag) Action() (string, bool) {
	return b.First(AttributeKeyAction)
}
