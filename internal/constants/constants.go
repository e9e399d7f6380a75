// Package constants holds the compile-time sizing parameters shared across
// the router, its ports, and the public API re-exports in constants.go.
package constants

import "time"

const (
	// MaxMTU is the largest packet a Port can be configured with. Packet
	// Buffers are sized for this regardless of any individual port's
	// configured MTU.
	MaxMTU = 256

	// MaxPayload is the flatten-buffer capacity used to concatenate a
	// vectored send before fragmentation.
	MaxPayload = 4096

	// MaxListeners is the Listener Registry's fixed slot count.
	MaxListeners = 20

	// MaxReceivers is the nominal Receive-Waiter Set size. The Router does
	// not enforce it: its waiters share one broadcast channel with no slot
	// limit.
	MaxReceivers = 50

	// DefaultForwardQueue is the default Port Queue depth.
	DefaultForwardQueue = 4
)

// TickIntervalCap is the maximum delay Router.UpdateTime will ever report
// as the recommended interval until the next call.
const TickIntervalCap = 100 * time.Millisecond
