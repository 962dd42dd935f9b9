// Package cache provides the read-through, write-invalidate script cache
// sitting between the evaluators and the script store.
//
// Every storefront page load prices every visible product, so the hot path
// must not pay a database round trip per evaluation. Entries are keyed by
// tenant and expire after a fixed TTL; any script mutation must invalidate
// the tenant's entry before the mutation is acknowledged, so staleness is
// bounded by the TTL only when no mutation happened.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

// DefaultTTL bounds how stale a tenant's script set may be served when no
// explicit invalidation happened.
const DefaultTTL = 5 * time.Minute

// Clock abstracts time for deterministic TTL tests.
// Production uses SystemClock; tests use testutil.FakeClock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// ScriptSource is the store dependency: the authoritative read of a tenant's
// active scripts grouped by trigger. Implemented by *store.Store.
type ScriptSource interface {
	ActiveScriptsByTrigger(ctx context.Context, tenantID string) (rules.ScriptSet, error)
}

// ScriptCache is what the pricing orchestrator and business-rule gate consume.
//
// ActiveScripts never returns an error: a failed source read degrades to an
// empty set so pricing and gating proceed with zero rules rather than failing
// the request. The failure is logged server-side only.
type ScriptCache interface {
	ActiveScripts(ctx context.Context, tenantID string) rules.ScriptSet
	Invalidate(tenantID string)
	InvalidateAll()
}

// Memory is the in-process ScriptCache: a tenant-keyed map guarded by an
// RWMutex.
//
// Concurrent misses may both query the source and both populate; the second
// write wins with an equivalent value. Holding the lock across the source
// query would serialize every tenant's reads behind one database round trip.
type Memory struct {
	source ScriptSource
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	scripts   rules.ScriptSet
	populated time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithClock injects a clock. Tests use this to drive TTL expiry without
// sleeping.
func WithClock(c Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// NewMemory creates an in-process cache over the given source.
func NewMemory(source ScriptSource, logger *slog.Logger, opts ...MemoryOption) *Memory {
	m := &Memory{
		source:  source,
		clock:   SystemClock{},
		ttl:     DefaultTTL,
		logger:  logger,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ActiveScripts returns the tenant's active scripts grouped by trigger,
// serving the cached value while it is younger than the TTL.
//
// On a source failure it returns an empty set: pricing must degrade to
// "no rules applied" rather than block page rendering. The failed read is
// not cached, so the next call retries the source.
func (m *Memory) ActiveScripts(ctx context.Context, tenantID string) rules.ScriptSet {
	now := m.clock.Now()

	m.mu.RLock()
	e, ok := m.entries[tenantID]
	m.mu.RUnlock()
	if ok && now.Sub(e.populated) < m.ttl {
		return e.scripts
	}

	set, err := m.source.ActiveScriptsByTrigger(ctx, tenantID)
	if err != nil {
		m.logger.Error("script cache: source read failed, serving zero rules",
			"tenant_id", tenantID, "error", err)
		return rules.ScriptSet{}
	}

	m.mu.Lock()
	m.entries[tenantID] = entry{scripts: set, populated: now}
	m.mu.Unlock()

	return set
}

// Invalidate evicts one tenant's entry. Must be called by every script
// mutation path before the mutation is acknowledged to the caller.
func (m *Memory) Invalidate(tenantID string) {
	m.mu.Lock()
	delete(m.entries, tenantID)
	m.mu.Unlock()
}

// InvalidateAll evicts every entry. Fallback for mutation paths that do not
// know the affected tenant.
func (m *Memory) InvalidateAll() {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
}
