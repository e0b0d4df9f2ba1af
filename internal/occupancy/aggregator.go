package occupancy

import "sync"

// Aggregator accumulates crossings between drains. Record and Drain are
// mutually exclusive, so an increment is never split across two intervals.
type Aggregator struct {
	mu sync.Mutex
	c  Counters
}

// NewAggregator returns an Aggregator with all counters at zero.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record counts a crossing of kind k. Non-crossing kinds are ignored.
func (a *Aggregator) Record(k Kind) {
	if !k.IsCrossing() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.c.Traversed++
	if k == KindEntered {
		a.c.Entered++
	} else {
		a.c.Exited++
	}
}

// Drain returns the current counters and resets them to zero.
func (a *Aggregator) Drain() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.c
	a.c = Counters{}
	return c
}

// Snapshot returns the current counters without resetting them.
func (a *Aggregator) Snapshot() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.c
}
