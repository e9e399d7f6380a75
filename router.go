// Package mctp implements an asynchronous MCTP (Management Component
// Transport Protocol) router: a transport hub that multiplexes local
// applications over multiple MCTP ports on a single endpoint, reassembling
// inbound messages for local delivery, forwarding everything else, and
// fragmenting locally originated messages for transmission.
package mctp

import (
	"context"
	"sync"
	"time"

	"github.com/behrlich/go-mctp/internal/constants"
	"github.com/behrlich/go-mctp/internal/logging"
	"github.com/behrlich/go-mctp/internal/stack"
	"github.com/behrlich/go-mctp/internal/wire"
)

// PortLookup is the user-supplied routing policy. sourcePort is set for
// forwarded packets and nil for locally originated sends; returning
// ok=false drops the packet (or, for sends, fails TxFailure).
type PortLookup interface {
	ByEID(dest wire.Eid, sourcePort *wire.PortID) (wire.PortID, bool)
}

type listenerSlot struct {
	typ wire.MsgType
}

// Config configures a Router.
type Config struct {
	EID       wire.Eid
	Lookup    PortLookup
	Metrics   *Metrics
	Logger    *logging.Logger
	TimeoutMs int64
}

// DefaultConfig returns a Config with the default stack reassembly/flow
// timeout and a fresh Metrics instance, for the common case where callers
// only need to supply the local EID and routing policy.
func DefaultConfig(eid wire.Eid, lookup PortLookup) Config {
	return Config{
		EID:       eid,
		Lookup:    lookup,
		Metrics:   NewMetrics(),
		Logger:    logging.Default(),
		TimeoutMs: stack.DefaultTimeoutMs,
	}
}

// Router is the core engine: it owns the MCTP Stack, the routing policy,
// the listener registry, and the implicit receive-waiter set (modeled
// here as a broadcast-on-change channel rather than a fixed waker array,
// since Go's scheduler gives every blocked goroutine its own stack
// instead of requiring a bounded waker table).
type Router struct {
	mu     sync.Mutex
	stack  *stack.Stack
	lookup PortLookup
	ports  map[wire.PortID]*Port
	wake   chan struct{}

	listenersMu sync.Mutex
	listeners   [constants.MaxListeners]*listenerSlot

	metrics *Metrics
	log     *logging.Logger
}

// NewRouter builds a Router from cfg.
func NewRouter(cfg Config) *Router {
	timeout := cfg.TimeoutMs
	if timeout <= 0 {
		timeout = stack.DefaultTimeoutMs
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Router{
		stack:   stack.NewStackWithTimeout(cfg.EID, timeout),
		lookup:  cfg.Lookup,
		ports:   make(map[wire.PortID]*Port),
		wake:    make(chan struct{}),
		metrics: metrics,
		log:     log,
	}
}

// AttachPort registers p with the router so inbound forwarding and
// outbound sends can reach it by PortID.
func (r *Router) AttachPort(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[p.ID()] = p
}

// Metrics returns the router's counters.
func (r *Router) Metrics() *Metrics { return r.metrics }

// broadcastWake wakes every goroutine currently blocked in
// appRecvMessage. Callers must hold r.mu.
func (r *Router) broadcastWake() {
	close(r.wake)
	r.wake = make(chan struct{})
}

// EID returns the stack's configured local endpoint identifier.
func (r *Router) EID() wire.Eid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stack.EID()
}

// SetEID reconfigures the local endpoint identifier.
func (r *Router) SetEID(eid wire.Eid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack.SetEID(eid)
}

// UpdateTime advances the stack's clock and reports the recommended
// delay until the next call, capped at
// TickIntervalCap. Any reassembly or flow expiry wakes every receive
// waiter; a spurious wake is harmless since each waiter re-checks its own
// condition.
func (r *Router) UpdateTime(nowMs int64) time.Duration {
	r.mu.Lock()
	nextMs, expired := r.stack.Update(nowMs)
	if expired {
		r.metrics.TimeExpiries.Add(1)
		r.broadcastWake()
	}
	r.mu.Unlock()

	next := time.Duration(nextMs) * time.Millisecond
	if next <= 0 || next > constants.TickIntervalCap {
		next = constants.TickIntervalCap
	}
	return next
}

// Inbound parses pkt's header, decides locality via the stack, and
// either completes reassembly and dispatches
// or forwards out the port resolved by PortLookup. The source EID is
// always returned (even on drop) so the caller can do rate-limit or
// telemetry accounting; a parse failure returns nil.
func (r *Router) Inbound(pkt []byte, portID wire.PortID) *wire.Eid {
	h, err := wire.ParseHeader(pkt)
	if err != nil {
		return nil
	}
	src := h.Src
	r.metrics.InboundTotal.Add(1)

	r.mu.Lock()
	if r.stack.IsLocalDest(pkt) {
		msg, handle, rerr := r.stack.Receive(pkt)
		if rerr != nil {
			r.mu.Unlock()
			r.metrics.ReassemblyErrors.Add(1)
			r.log.Debug("inbound: reassembly error", "err", rerr, "port", int(portID))
			return &src
		}
		if msg == nil {
			r.mu.Unlock() // fragment consumed, message not yet complete
			return &src
		}
		r.dispatchLocked(msg, handle)
		r.mu.Unlock()
		r.metrics.LocalDelivered.Add(1)
		return &src
	}

	outPort, ok := r.lookup.ByEID(h.Dest, &portID)
	if !ok {
		r.mu.Unlock()
		return &src
	}
	port, ok := r.ports[outPort]
	r.mu.Unlock()
	if !ok {
		return &src
	}
	if ferr := port.ForwardPacket(pkt); ferr != nil {
		r.log.Debug("inbound: forward failed", "err", ferr, "dest_port", int(outPort))
	}
	return &src
}

// dispatchLocked dispatches a completed message to its listener or
// response waiter. Callers must hold r.mu; the stack operations it
// performs are only valid under that lock.
func (r *Router) dispatchLocked(msg *stack.Message, handle stack.ReceiveHandle) {
	if msg.Tag.IsOwner() {
		cookie, ok := r.findListener(msg.Typ)
		if !ok {
			r.stack.FinishedReceive(handle)
			r.metrics.ListenerDiscarded.Add(1)
			return
		}
		r.stack.SetCookie(handle, &cookie)
		r.stack.ReturnHandle(handle)
		r.metrics.ListenerDelivered.Add(1)
		r.broadcastWake()
		return
	}

	r.stack.ReturnHandle(handle)
	r.metrics.ResponseDelivered.Add(1)
	r.broadcastWake()
}

func (r *Router) findListener(typ wire.MsgType) (wire.AppCookie, bool) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	for i, slot := range r.listeners {
		if slot != nil && slot.typ == typ {
			return wire.AppCookie(i), true
		}
	}
	return 0, false
}

// AppBind registers a listener for typ, returning AddrInUse if one is
// already bound, or NoSpace if the table is full.
func (r *Router) AppBind(typ wire.MsgType) (wire.AppCookie, error) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	for _, slot := range r.listeners {
		if slot != nil && slot.typ == typ {
			return 0, NewError("app_bind", CodeAddrInUse, "listener already bound for message type")
		}
	}
	for i, slot := range r.listeners {
		if slot == nil {
			r.listeners[i] = &listenerSlot{typ: typ}
			return wire.AppCookie(i), nil
		}
	}
	return 0, NewError("app_bind", CodeNoSpace, "listener table full")
}

// AppUnbind releases a listener slot. It never wakes anything -- unbind
// only runs when the listener owner is being dropped.
func (r *Router) AppUnbind(cookie wire.AppCookie) error {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	idx := int(cookie)
	if idx < 0 || idx >= len(r.listeners) || r.listeners[idx] == nil {
		return NewError("app_unbind", CodeBadArgument, "invalid listener cookie")
	}
	r.listeners[idx] = nil
	return nil
}

// appRecvMessage implements the cooperative polling loop generically
// over find, which looks up a deferred handle by whichever key (cookie,
// or (eid,tag)) the caller selected. find is called with r.mu held.
func (r *Router) appRecvMessage(ctx context.Context, find func() (stack.ReceiveHandle, bool), buf []byte) (n int, src wire.Eid, typ wire.MsgType, tag wire.Tag, ic wire.MsgIC, err error) {
	for {
		r.mu.Lock()
		if handle, ok := find(); ok {
			msg, ferr := r.stack.FetchMessage(handle)
			if ferr != nil {
				r.stack.FinishedReceive(handle)
				r.mu.Unlock()
				return 0, 0, 0, wire.Tag{}, false, WrapError("app_recv_message", CodeInternalError, ferr)
			}
			if len(msg.Payload) > len(buf) {
				r.mu.Unlock()
				return 0, 0, 0, wire.Tag{}, false, NewError("app_recv_message", CodeNoSpace, "receive buffer too small")
			}
			n = copy(buf, msg.Payload)
			r.stack.FinishedReceive(handle)
			r.mu.Unlock()
			return n, msg.Source, msg.Typ, msg.Tag, msg.IC, nil
		}
		wakeCh := r.wake
		r.mu.Unlock()

		select {
		case <-wakeCh:
		case <-ctx.Done():
			return 0, 0, 0, wire.Tag{}, false, ctx.Err()
		}
	}
}

// RecvByCookie implements app_recv_message's listener path (lookup by
// AppCookie).
func (r *Router) RecvByCookie(ctx context.Context, cookie wire.AppCookie, buf []byte) (int, wire.Eid, wire.MsgType, wire.Tag, wire.MsgIC, error) {
	return r.appRecvMessage(ctx, func() (stack.ReceiveHandle, bool) {
		return r.stack.GetDeferredByCookie(cookie)
	}, buf)
}

// RecvByFlow implements app_recv_message's response path (lookup by
// (eid,tag)).
func (r *Router) RecvByFlow(ctx context.Context, eid wire.Eid, tag wire.Tag, buf []byte) (int, wire.Eid, wire.MsgType, wire.Tag, wire.MsgIC, error) {
	return r.appRecvMessage(ctx, func() (stack.ReceiveHandle, bool) {
		return r.stack.GetDeferred(eid, tag)
	}, buf)
}

// AppSendMessage resolves the outbound port, asks the stack to start a
// send (allocating or reusing a tag), and
// releases the router mutex before handing off to the port's
// SendMessage, so a long transmission never blocks other ports or
// inbound processing.
func (r *Router) AppSendMessage(ctx context.Context, eid wire.Eid, typ wire.MsgType, tag *wire.Tag, tagExpires bool, ic wire.MsgIC, cookie *wire.AppCookie, bufs [][]byte) (wire.Tag, error) {
	r.mu.Lock()
	portID, ok := r.lookup.ByEID(eid, nil)
	if !ok {
		r.mu.Unlock()
		return wire.Tag{}, NewError("app_send_message", CodeTxFailure, "no route to destination").WithEID(eid)
	}
	port, ok := r.ports[portID]
	if !ok {
		r.mu.Unlock()
		return wire.Tag{}, NewError("app_send_message", CodeTxFailure, "resolved port not attached").WithEID(eid).WithPort(portID)
	}

	frag, serr := r.stack.StartSend(eid, typ, tag, tagExpires, ic, port.MTU(), cookie)
	r.mu.Unlock()
	if serr != nil {
		return wire.Tag{}, WrapError("app_send_message", CodeTxFailure, serr).WithEID(eid)
	}

	return port.SendMessage(ctx, frag, bufs)
}

// AppReleaseTag performs best-effort flow cancellation. Stack errors are
// logged, not returned -- the flow may already be gone.
func (r *Router) AppReleaseTag(eid wire.Eid, tv wire.TagValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.stack.CancelFlow(eid, tv); err != nil {
		r.log.Warn("app_release_tag: cancel failed", "eid", uint8(eid), "err", err)
	}
}
