package poolmgr

import (
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lordbasex/dbpool/sqlconn"
)

func secondsToDuration(n int) time.Duration { return time.Duration(n) * time.Second }

// Manager owns a set of named ConnectionPools built from a registry
// document. Construction failures are recorded per pool name and never
// abort loading the rest of the document (spec.md §7's propagation
// rule: construction errors of a pool are fatal to that pool only).
type Manager struct {
	mu       sync.RWMutex
	pools    map[string]*sqlconn.ConnectionPool
	failures map[string]error
	logger   *zap.SugaredLogger
}

// NewManager creates an empty Manager. A nil logger is replaced with a
// no-op logger.
func NewManager(logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		pools:    make(map[string]*sqlconn.ConnectionPool),
		failures: make(map[string]error),
		logger:   logger,
	}
}

// Load parses a registry YAML document from r and constructs one
// ConnectionPool per entry, looking each entry's driver name up in
// drivers. A pool whose driver is unknown or whose url is missing is
// recorded as a failure and skipped; every other entry is still
// constructed.
func (m *Manager) Load(r io.Reader, drivers map[string]driver.Driver) error {
	var doc document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("poolmgr: decode registry document: %w", err)
	}

	for name, entry := range doc.Pools {
		if err := m.buildPool(name, entry, drivers); err != nil {
			m.logger.Warnw("pool construction failed, continuing with remaining pools", "pool", name, "error", err)
			m.mu.Lock()
			m.failures[name] = err
			m.mu.Unlock()
		}
	}
	return nil
}

func (m *Manager) buildPool(name string, entry poolEntry, drivers map[string]driver.Driver) error {
	if entry.URL == "" {
		return fmt.Errorf("poolmgr: pool %q: missing required option %q", name, "url")
	}
	drv, ok := drivers[entry.Driver]
	if !ok {
		return fmt.Errorf("poolmgr: pool %q: unknown driver %q", name, entry.Driver)
	}

	cfg := entry.toConfig(name)
	cfg.Logger = m.logger.With("pool", name)
	cp := sqlconn.Open(cfg, drv)

	m.mu.Lock()
	m.pools[name] = cp
	m.mu.Unlock()
	return nil
}

// Get returns the named pool, if it was constructed successfully.
func (m *Manager) Get(name string) (*sqlconn.ConnectionPool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.pools[name]
	return cp, ok
}

// Names returns the names of every successfully constructed pool.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Failures returns the construction error recorded for each pool name
// that failed to build.
func (m *Manager) Failures() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]error, len(m.failures))
	for k, v := range m.failures {
		out[k] = v
	}
	return out
}

// Close releases every constructed pool. force is passed through to
// each pool's Release.
func (m *Manager) Close(force bool) {
	m.mu.RLock()
	pools := make([]*sqlconn.ConnectionPool, 0, len(m.pools))
	for _, cp := range m.pools {
		pools = append(pools, cp)
	}
	m.mu.RUnlock()

	for _, cp := range pools {
		cp.Release(force)
	}
}
