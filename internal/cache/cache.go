package cache

import (
	"context"
	"sync"
	"time"

	"posledger/internal/sales"
)

// Generation names the ledger state a cached value belongs to. Get reports
// the generation current at read time and Set files the value under it, so a
// dashboard computed before an Invalidate can never be served after it.
type Generation string

// SalesCache holds computed dashboards keyed by filter and window. Entries
// are dropped wholesale whenever the order ledger changes.
type SalesCache interface {
	Get(ctx context.Context, key string) (*sales.Dashboard, Generation, bool, error)
	Set(ctx context.Context, gen Generation, key string, value *sales.Dashboard, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSalesCache struct{}

func (NoopSalesCache) Get(_ context.Context, _ string) (*sales.Dashboard, Generation, bool, error) {
	return nil, "", false, nil
}

func (NoopSalesCache) Set(_ context.Context, _ Generation, _ string, _ *sales.Dashboard, _ time.Duration) error {
	return nil
}

func (NoopSalesCache) Invalidate(_ context.Context) error {
	return nil
}

// RevocationStore remembers signed-out token ids until they would have
// expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type MemoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{entries: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, exp := range m.entries {
		if !exp.After(now) {
			delete(m.entries, id)
		}
	}
	m.entries[tokenID] = until
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[tokenID]
	return ok && exp.After(m.now()), nil
}
