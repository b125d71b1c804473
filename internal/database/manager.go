package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Manager is an explicit pool registry keyed by connection string. Handles
// are reference-counted: the underlying pgx pool closes when the last handle
// does. The manager itself is constructed at adapter startup and torn down
// with Shutdown; there is no process-exit hook.
type Manager struct {
	mu    sync.Mutex
	pools map[string]*entry
}

type entry struct {
	pool *pgxpool.Pool
	refs int
}

// Handle is one reference to a shared pool. Close is idempotent.
type Handle struct {
	m      *Manager
	dsn    string
	pool   *pgxpool.Pool
	closed bool
	mu     sync.Mutex
}

// NewManager creates an empty pool manager.
func NewManager() *Manager {
	return &Manager{pools: make(map[string]*entry)}
}

// Acquire returns a handle on the pool for the given configuration, creating
// the pool on first use.
func (m *Manager) Acquire(ctx context.Context, cfg Config) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.pools[cfg.DSN]; ok {
		e.refs++
		return &Handle{m: m, dsn: cfg.DSN, pool: e.pool}, nil
	}

	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("acquire pool: %w", err)
	}
	m.pools[cfg.DSN] = &entry{pool: pool, refs: 1}
	return &Handle{m: m, dsn: cfg.DSN, pool: pool}, nil
}

// Shutdown force-closes every registered pool regardless of outstanding
// references.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for dsn, e := range m.pools {
		e.pool.Close()
		delete(m.pools, dsn)
	}
}

// Pool returns the underlying pgx pool.
func (h *Handle) Pool() *pgxpool.Pool {
	return h.pool
}

// Close releases this reference; the pool is closed when the last reference
// goes away.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	e, ok := h.m.pools[h.dsn]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		e.pool.Close()
		delete(h.m.pools, h.dsn)
	}
}
