package mctp

import (
	"sync"

	"github.com/behrlich/go-mctp/internal/wire"
)

// MockPortLookup is a minimal, test-friendly PortLookup: a plain map from
// destination EID to PortID, for exercising the Router without a real
// routing policy.
type MockPortLookup struct {
	mu     sync.Mutex
	routes map[wire.Eid]wire.PortID
}

// NewMockPortLookup builds an empty MockPortLookup.
func NewMockPortLookup() *MockPortLookup {
	return &MockPortLookup{routes: make(map[wire.Eid]wire.PortID)}
}

// Add registers a destination EID to PortID route.
func (m *MockPortLookup) Add(dest wire.Eid, port wire.PortID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[dest] = port
}

// ByEID implements PortLookup.
func (m *MockPortLookup) ByEID(dest wire.Eid, sourcePort *wire.PortID) (wire.PortID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.routes[dest]
	return p, ok
}
