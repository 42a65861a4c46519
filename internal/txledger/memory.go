package txledger

import (
	"context"
	"sync"

	"github.com/Illiquidly/marketwatch/internal/pkg/types"
)

// memoryLedger is an in-process Ledger used by tests and single-node local
// runs. Production deployments use the redis adapter.
type memoryLedger struct {
	mu      sync.Mutex
	seen    map[string]types.Set[string]
	cursors map[string]uint64
}

var _ Ledger = (*memoryLedger)(nil)

// NewMemory creates an empty in-memory Ledger.
func NewMemory() *memoryLedger {
	return &memoryLedger{
		seen:    make(map[string]types.Set[string]),
		cursors: make(map[string]uint64),
	}
}

func (l *memoryLedger) Cursor(_ context.Context, domain, network string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cursors[Key(domain, network)], nil
}

func (l *memoryLedger) Cardinality(_ context.Context, domain, network string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return uint64(len(l.seen[Key(domain, network)])), nil
}

func (l *memoryLedger) FilterNew(_ context.Context, domain, network string, hashes []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := l.seen[Key(domain, network)]

	fresh := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		if !seen.Contains(hash) {
			fresh = append(fresh, hash)
		}
	}
	return fresh, nil
}

func (l *memoryLedger) Commit(_ context.Context, domain, network string, hashes []string, pageLen uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(domain, network)

	set, ok := l.seen[key]
	if !ok {
		set = types.NewSet[string]()
		l.seen[key] = set
	}
	set.Add(hashes...)

	l.cursors[key] += pageLen
	return nil
}

func (l *memoryLedger) Flush(_ context.Context, domain, network string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := Key(domain, network)
	delete(l.seen, key)
	delete(l.cursors, key)
	return nil
}
