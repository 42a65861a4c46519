package listener

import (
	"sync"

	"github.com/Illiquidly/marketwatch/internal/pkg/types"
	"github.com/Illiquidly/marketwatch/internal/txledger"
)

// inflightGuard enforces the per-(domain, network) reentrancy rule: while a
// poll run for a pair is in flight, further triggers for the same pair are
// dropped rather than queued. The in-flight run polls until no new
// transactions remain, so it observes whatever motivated the dropped
// trigger anyway.
type inflightGuard struct {
	mu       sync.Mutex
	inFlight types.Set[string]
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{
		inFlight: types.NewSet[string](),
	}
}

// tryAcquire claims the (domain, network) pair. It returns false when a run
// for the pair is already in flight.
func (g *inflightGuard) tryAcquire(domain, network string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := txledger.Key(domain, network)
	if g.inFlight.Contains(key) {
		return false
	}

	g.inFlight.Add(key)
	return true
}

// release frees the pair claimed by tryAcquire.
func (g *inflightGuard) release(domain, network string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inFlight.Delete(txledger.Key(domain, network))
}
