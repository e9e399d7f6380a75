package stack

import "github.com/behrlich/go-mctp/internal/wire"

// Fragmenter slices one outbound message into MTU-sized MCTP packets. It
// tracks only send-state (byte offset into whatever payload the caller
// supplies, packet sequence number, and ownership of the allocated tag);
// the payload itself lives in the caller's flatten buffer and is passed
// to Fragment on every call.
type Fragmenter struct {
	src  wire.Eid
	dest wire.Eid
	tag  wire.Tag
	typ  wire.MsgType
	ic   wire.MsgIC
	mtu  int

	offset   int
	seq      uint8
	started  bool
	finished bool
}

func newFragmenter(src, dest wire.Eid, tag wire.Tag, typ wire.MsgType, ic wire.MsgIC, mtu int) *Fragmenter {
	return &Fragmenter{src: src, dest: dest, tag: tag, typ: typ, ic: ic, mtu: mtu}
}

// Fragment writes the next packet for payload into slot, starting where
// the previous call left off. It returns the number of bytes written into
// slot and whether this packet completed the message (EOM). Calling
// Fragment again after done is reported is a contract violation and
// returns ErrFragmenterDone.
func (f *Fragmenter) Fragment(payload []byte, slot []byte) (n int, done bool, err error) {
	if f.finished {
		return 0, true, ErrFragmenterDone
	}

	first := !f.started
	capacity := f.mtu - wire.HeaderLen
	if first {
		capacity--
	}
	if capacity <= 0 {
		return 0, false, ErrMTUTooSmall
	}

	remaining := len(payload) - f.offset
	if remaining < 0 {
		remaining = 0
	}
	take := remaining
	if take > capacity {
		take = capacity
	}
	eom := f.offset+take >= len(payload)

	h := wire.Header{
		Version: wire.HeaderVersion,
		Dest:    f.dest,
		Src:     f.src,
		SOM:     first,
		EOM:     eom,
		PktSeq:  f.seq & 0x3,
		TO:      f.tag.IsOwner(),
		Tag:     f.tag.Value(),
	}
	hdr := h.Marshal()
	pos := copy(slot, hdr[:])

	if first {
		tb := wire.TypeByte{IC: f.ic, Typ: f.typ}
		slot[pos] = tb.Marshal()
		pos++
	}
	pos += copy(slot[pos:], payload[f.offset:f.offset+take])

	f.offset += take
	f.seq++
	f.started = true
	if eom {
		f.finished = true
	}
	return pos, f.finished, nil
}

// IsDone reports whether the fragmenter has emitted its final (EOM)
// packet.
func (f *Fragmenter) IsDone() bool { return f.finished }

// Tag returns the flow tag this fragmenter's packets carry.
func (f *Fragmenter) Tag() wire.Tag { return f.tag }

// Dest returns the destination EID this fragmenter's packets carry.
func (f *Fragmenter) Dest() wire.Eid { return f.dest }
