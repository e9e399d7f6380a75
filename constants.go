package mctp

import "github.com/behrlich/go-mctp/internal/constants"

// Compile-time sizing parameters, re-exported from internal/constants for
// application code that never needs to reach into internal/.
const (
	MaxMTU              = constants.MaxMTU
	MaxPayload          = constants.MaxPayload
	MaxListeners        = constants.MaxListeners
	MaxReceivers        = constants.MaxReceivers
	DefaultForwardQueue = constants.DefaultForwardQueue
)

// TickIntervalCap is the largest delay UpdateTime will ever recommend
// before its next call.
var TickIntervalCap = constants.TickIntervalCap
