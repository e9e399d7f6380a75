// Package stack is the concrete MCTP protocol engine the router treats as
// an opaque collaborator: header-driven reassembly of inbound packets,
// tag/flow allocation for outbound sends, and the deferred-message set a
// Router drains on behalf of listeners and response waiters.
package stack

import (
	"errors"

	"github.com/behrlich/go-mctp/internal/wire"
)

// Errors surfaced by Stack operations: stack-origin errors from
// reassembly/flow allocation, surfaced unchanged by the router.
var (
	ErrMalformedPacket  = errors.New("stack: malformed packet")
	ErrNoFlow           = errors.New("stack: continuation packet for unknown flow")
	ErrNoTags           = errors.New("stack: no free tags for destination")
	ErrTagConsumed      = errors.New("stack: tag already consumed or not allocated")
	ErrMTUTooSmall      = errors.New("stack: mtu too small for one header")
	ErrFragmenterDone   = errors.New("stack: fragmenter already finished")
	ErrHandleNotPending = errors.New("stack: handle is not a pending receive")
)

// DefaultTimeoutMs is the reassembly/flow inactivity timeout used when a
// Stack is built with NewStack's default.
const DefaultTimeoutMs int64 = 5000

// ReceiveHandle identifies one reassembled message moving through the
// stack's pending/deferred bookkeeping.
type ReceiveHandle int

// Message is the reassembled payload and its originating metadata.
type Message struct {
	Payload []byte
	Source  wire.Eid
	Typ     wire.MsgType
	Tag     wire.Tag
	IC      wire.MsgIC
}

type flowKey struct {
	eid   wire.Eid
	value wire.TagValue
	owned bool
}

func keyOf(eid wire.Eid, tag wire.Tag) flowKey {
	return flowKey{eid: eid, value: tag.Value(), owned: tag.IsOwner()}
}

type reassembly struct {
	typ      wire.MsgType
	ic       wire.MsgIC
	tag      wire.Tag
	src      wire.Eid
	payload  []byte
	deadline int64
}

type tagState struct {
	expires  bool
	deadline int64
}

// Stack is a concrete, non-opaque protocol engine. All methods are
// synchronous and are called by the router while holding its core mutex.
type Stack struct {
	ownEID wire.Eid
	now    int64
	timeoutMs int64

	reassembling map[flowKey]*reassembly

	nextHandle ReceiveHandle
	pending    map[ReceiveHandle]*Message
	cookies    map[ReceiveHandle]*wire.AppCookie

	deferredByCookie map[wire.AppCookie]ReceiveHandle
	deferredByFlow   map[flowKey]ReceiveHandle

	// tags tracks allocation of locally-owned (Owned) tags per destination
	// EID. Bit i of tags[eid] set means TagValue(i) is currently allocated.
	tags      map[wire.Eid]uint8
	tagExpiry map[flowKey]*tagState
}

// NewStack builds a Stack for local endpoint ownEID with the default
// reassembly/flow timeout.
func NewStack(ownEID wire.Eid) *Stack {
	return NewStackWithTimeout(ownEID, DefaultTimeoutMs)
}

// NewStackWithTimeout builds a Stack with an explicit inactivity timeout,
// in milliseconds, for both in-progress reassembly and expiring tags.
func NewStackWithTimeout(ownEID wire.Eid, timeoutMs int64) *Stack {
	return &Stack{
		ownEID:           ownEID,
		timeoutMs:        timeoutMs,
		reassembling:     make(map[flowKey]*reassembly),
		pending:          make(map[ReceiveHandle]*Message),
		cookies:          make(map[ReceiveHandle]*wire.AppCookie),
		deferredByCookie: make(map[wire.AppCookie]ReceiveHandle),
		deferredByFlow:   make(map[flowKey]ReceiveHandle),
		tags:             make(map[wire.Eid]uint8),
		tagExpiry:        make(map[flowKey]*tagState),
	}
}

// EID returns the stack's configured local endpoint identifier.
func (s *Stack) EID() wire.Eid { return s.ownEID }

// SetEID reconfigures the local endpoint identifier.
func (s *Stack) SetEID(eid wire.Eid) { s.ownEID = eid }

// Update advances the stack's notion of time and expires any reassembly
// in progress or any expiring tag past its deadline. It reports the
// recommended delay until the next call (uncapped here; the router caps
// it at TickIntervalCap) and whether anything expired this tick.
func (s *Stack) Update(nowMs int64) (nextMs int64, expired bool) {
	s.now = nowMs

	for key, r := range s.reassembling {
		if r.deadline <= nowMs {
			delete(s.reassembling, key)
			expired = true
		}
	}
	for key, ts := range s.tagExpiry {
		if ts.expires && ts.deadline <= nowMs {
			delete(s.tagExpiry, key)
			s.tags[key.eid] &^= 1 << uint(key.value)
			expired = true
		}
	}
	return s.timeoutMs, expired
}

// IsLocalDest reports whether pkt's destination EID is this stack's own
// EID.
func (s *Stack) IsLocalDest(pkt []byte) bool {
	h, err := wire.ParseHeader(pkt)
	if err != nil {
		return false
	}
	return h.Dest == s.ownEID
}

// Receive feeds one inbound packet known to be locally destined into the
// reassembler. It returns a non-nil Message and handle only when this
// packet completed a message; a nil Message with a nil error means the
// fragment was consumed and more are expected.
func (s *Stack) Receive(pkt []byte) (*Message, ReceiveHandle, error) {
	h, err := wire.ParseHeader(pkt)
	if err != nil {
		return nil, 0, ErrMalformedPacket
	}
	body := pkt[wire.HeaderLen:]
	tag := h.RouterTag()
	key := flowKey{eid: h.Src, value: tag.Value(), owned: tag.IsOwner()}

	if h.SOM {
		if len(body) < 1 {
			return nil, 0, ErrMalformedPacket
		}
		tb := wire.ParseTypeByte(body[0])
		payload := append([]byte(nil), body[1:]...)
		r := &reassembly{typ: tb.Typ, ic: tb.IC, tag: tag, src: h.Src, payload: payload, deadline: s.now + s.timeoutMs}
		if h.EOM {
			return s.complete(r)
		}
		s.reassembling[key] = r
		return nil, 0, nil
	}

	r, ok := s.reassembling[key]
	if !ok {
		return nil, 0, ErrNoFlow
	}
	r.payload = append(r.payload, body...)
	r.deadline = s.now + s.timeoutMs
	if h.EOM {
		delete(s.reassembling, key)
		return s.complete(r)
	}
	return nil, 0, nil
}

func (s *Stack) complete(r *reassembly) (*Message, ReceiveHandle, error) {
	handle := s.nextHandle
	s.nextHandle++
	msg := &Message{Payload: r.payload, Source: r.src, Typ: r.typ, Tag: r.tag, IC: r.ic}
	s.pending[handle] = msg
	return msg, handle, nil
}

// SetCookie associates a listener's AppCookie with a pending handle, ahead
// of ReturnHandle. A nil cookie clears any previously set association.
func (s *Stack) SetCookie(handle ReceiveHandle, cookie *wire.AppCookie) {
	if cookie == nil {
		delete(s.cookies, handle)
		return
	}
	c := *cookie
	s.cookies[handle] = &c
}

// ReturnHandle moves a pending receive into the deferred set, indexed by
// whichever key the router needs to retrieve it later: by AppCookie for
// listener deliveries, by (eid,tag) for response deliveries.
func (s *Stack) ReturnHandle(handle ReceiveHandle) {
	msg, ok := s.pending[handle]
	if !ok {
		return
	}
	if cookie, ok := s.cookies[handle]; ok {
		s.deferredByCookie[*cookie] = handle
		return
	}
	s.deferredByFlow[keyOf(msg.Source, msg.Tag)] = handle
}

// GetDeferredByCookie looks up a deferred handle previously returned under
// the given AppCookie.
func (s *Stack) GetDeferredByCookie(cookie wire.AppCookie) (ReceiveHandle, bool) {
	h, ok := s.deferredByCookie[cookie]
	return h, ok
}

// GetDeferred looks up a deferred handle previously returned under the
// given (eid,tag) response key.
func (s *Stack) GetDeferred(eid wire.Eid, tag wire.Tag) (ReceiveHandle, bool) {
	h, ok := s.deferredByFlow[keyOf(eid, tag)]
	return h, ok
}

// FetchMessage returns the message behind a handle without consuming it.
func (s *Stack) FetchMessage(handle ReceiveHandle) (Message, error) {
	msg, ok := s.pending[handle]
	if !ok {
		return Message{}, ErrHandleNotPending
	}
	return *msg, nil
}

// FinishedReceive releases all bookkeeping for a handle: the pending
// message, its cookie association, and whichever deferred index it was
// filed under.
func (s *Stack) FinishedReceive(handle ReceiveHandle) {
	msg, ok := s.pending[handle]
	if !ok {
		return
	}
	if cookie, ok := s.cookies[handle]; ok {
		if s.deferredByCookie[*cookie] == handle {
			delete(s.deferredByCookie, *cookie)
		}
		delete(s.cookies, handle)
	} else {
		key := keyOf(msg.Source, msg.Tag)
		if s.deferredByFlow[key] == handle {
			delete(s.deferredByFlow, key)
		}
	}
	delete(s.pending, handle)
}

// StartSend allocates (or validates a caller-supplied) tag and builds a
// Fragmenter ready to slice an outbound message for eid. A nil tag
// allocates a fresh Owned tag; a non-nil Owned tag reuses a
// previously-allocated, still-live flow; a non-nil Unowned tag (a
// response reusing the peer's tag) is never pool-tracked.
func (s *Stack) StartSend(eid wire.Eid, typ wire.MsgType, tag *wire.Tag, tagExpires bool, ic wire.MsgIC, mtu int, cookie *wire.AppCookie) (*Fragmenter, error) {
	if mtu <= wire.HeaderLen {
		return nil, ErrMTUTooSmall
	}

	var useTag wire.Tag
	switch {
	case tag == nil:
		tv, err := s.allocateTag(eid)
		if err != nil {
			return nil, err
		}
		useTag = wire.OwnedTag(tv)
		s.tagExpiry[flowKey{eid: eid, value: tv, owned: true}] = &tagState{expires: tagExpires, deadline: s.now + s.timeoutMs}
	case tag.IsOwner():
		key := flowKey{eid: eid, value: tag.Value(), owned: true}
		ts, ok := s.tagExpiry[key]
		if !ok {
			return nil, ErrTagConsumed
		}
		ts.expires = tagExpires
		ts.deadline = s.now + s.timeoutMs
		useTag = *tag
	default:
		useTag = *tag
	}

	return newFragmenter(s.ownEID, eid, useTag, typ, ic, mtu), nil
}

func (s *Stack) allocateTag(eid wire.Eid) (wire.TagValue, error) {
	used := s.tags[eid]
	for i := 0; i < 8; i++ {
		if used&(1<<uint(i)) == 0 {
			s.tags[eid] = used | (1 << uint(i))
			return wire.TagValue(i), nil
		}
	}
	return 0, ErrNoTags
}

// CancelFlow releases a previously allocated Owned tag for eid. It is a
// no-op, returning nil, if the tag is not currently allocated -- callers
// treat release as best-effort.
func (s *Stack) CancelFlow(eid wire.Eid, tv wire.TagValue) error {
	key := flowKey{eid: eid, value: tv, owned: true}
	delete(s.tagExpiry, key)
	s.tags[eid] &^= 1 << uint(tv)
	return nil
}
