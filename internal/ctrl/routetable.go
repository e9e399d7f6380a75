// Package ctrl provides a default, in-memory implementation of the
// router's PortLookup collaborator: a plain destination-EID to
// port-index table.
package ctrl

import (
	"sync"

	"github.com/behrlich/go-mctp/internal/wire"
)

// RouteTable is a PortLookup backed by a simple map from destination EID
// to the PortID it should be forwarded out. It is one concrete policy; the
// router accepts any type implementing the same single-method shape, so
// applications with more elaborate routing (bridging tables, source-port
// exclusions) can supply their own.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[wire.Eid]wire.PortID
}

// NewRouteTable builds an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[wire.Eid]wire.PortID)}
}

// AddRoute directs traffic for dest out port.
func (t *RouteTable) AddRoute(dest wire.Eid, port wire.PortID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[dest] = port
}

// RemoveRoute clears any route for dest.
func (t *RouteTable) RemoveRoute(dest wire.Eid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, dest)
}

// ByEID implements the router's PortLookup contract. sourcePort is
// ignored by this simple table (it never special-cases the inbound port);
// callers that need split-horizon behavior should supply their own
// PortLookup.
func (t *RouteTable) ByEID(dest wire.Eid, sourcePort *wire.PortID) (wire.PortID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.routes[dest]
	return p, ok
}
