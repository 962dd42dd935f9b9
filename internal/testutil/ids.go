package testutil

import "sync"

// FixedIDs returns predetermined ids in order, for deterministic script
// creation in tests and golden fixtures.
//
// Example:
//
//	gen := testutil.NewFixedIDs("script-1", "script-2")
//	gen.NewID() // "script-1"
//	gen.NewID() // "script-2"
//	gen.NewID() // panic: all ids exhausted
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator that returns ids in order.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// NewID returns the next id. Panics when exhausted: a test consuming more
// ids than it declared is a test bug, not a runtime condition.
func (g *FixedIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("testutil: all fixed ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
