package breaker

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Manager holds one breaker per logical dependency name, creating them
// lazily with shared defaults. Breaker state is shared across all callers
// using the same name.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager creates a breaker manager
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[name]
	if !ok {
		b = New(name, m.cfg, m.logger)
		m.breakers[name] = b
	}
	return b
}

// Execute runs fn under the named breaker
func (m *Manager) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	return m.Get(name).Execute(ctx, fn)
}

// Stats returns a snapshot of every breaker, ordered by name
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	stats := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		stats = append(stats, b.Snapshot())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// ResetAll forces every breaker back to CLOSED. Operational recovery tool.
func (m *Manager) ResetAll() int {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
	return len(breakers)
}
