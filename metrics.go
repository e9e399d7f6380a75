package mctp

import "sync/atomic"

// Metrics holds the atomic counters tracking packet-level router events.
// All fields are safe for concurrent use from any goroutine.
type Metrics struct {
	InboundTotal      atomic.Int64
	LocalDelivered    atomic.Int64
	Forwarded         atomic.Int64
	ForwardDropped    atomic.Int64
	ReassemblyErrors  atomic.Int64
	ListenerDelivered atomic.Int64
	ResponseDelivered atomic.Int64
	ListenerDiscarded atomic.Int64
	PacketsFragmented atomic.Int64
	TimeExpiries      atomic.Int64
}

// NewMetrics builds a zeroed Metrics.
func NewMetrics() *Metrics { return &Metrics{} }

// MetricsSnapshot is a point-in-time copy of Metrics, safe to log or
// serialize without further synchronization.
type MetricsSnapshot struct {
	InboundTotal      int64
	LocalDelivered    int64
	Forwarded         int64
	ForwardDropped    int64
	ReassemblyErrors  int64
	ListenerDelivered int64
	ResponseDelivered int64
	ListenerDiscarded int64
	PacketsFragmented int64
	TimeExpiries      int64
}

// Snapshot reads every counter into a plain struct.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		InboundTotal:      m.InboundTotal.Load(),
		LocalDelivered:    m.LocalDelivered.Load(),
		Forwarded:         m.Forwarded.Load(),
		ForwardDropped:    m.ForwardDropped.Load(),
		ReassemblyErrors:  m.ReassemblyErrors.Load(),
		ListenerDelivered: m.ListenerDelivered.Load(),
		ResponseDelivered: m.ResponseDelivered.Load(),
		ListenerDiscarded: m.ListenerDiscarded.Load(),
		PacketsFragmented: m.PacketsFragmented.Load(),
		TimeExpiries:      m.TimeExpiries.Load(),
	}
}
