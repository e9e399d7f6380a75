package wire

import "errors"

// HeaderLen is the fixed size of the MCTP transport header (DSP0236 §8.1):
// one version/reserved byte, destination EID, source EID, and one flags
// byte packing SOM/EOM/sequence/tag-owner/tag.
const HeaderLen = 4

// HeaderVersion is the only base-header version this stack speaks.
const HeaderVersion = 0x1

// ErrShortPacket is returned by ParseHeader when a buffer is too small to
// hold a header.
var ErrShortPacket = errors.New("wire: packet shorter than header")

// Header is the decoded form of an MCTP transport packet header.
type Header struct {
	Version uint8
	Dest    Eid
	Src     Eid
	SOM     bool // start of message
	EOM     bool // end of message
	PktSeq  uint8 // 2-bit packet sequence number
	TO      bool // tag owner
	Tag     TagValue // 3-bit tag value
}

// Marshal encodes h into a 4-byte array per DSP0236.
func (h Header) Marshal() [HeaderLen]byte {
	var buf [HeaderLen]byte
	buf[0] = h.Version & 0xf
	buf[1] = uint8(h.Dest)
	buf[2] = uint8(h.Src)

	var flags uint8
	if h.SOM {
		flags |= 1 << 7
	}
	if h.EOM {
		flags |= 1 << 6
	}
	flags |= (h.PktSeq & 0x3) << 4
	if h.TO {
		flags |= 1 << 3
	}
	flags |= uint8(h.Tag) & 0x7
	buf[3] = flags
	return buf
}

// ParseHeader decodes the leading HeaderLen bytes of pkt: a plain
// byte-by-byte decode with an explicit length check rather than an
// unsafe cast, since MCTP headers cross an untrusted transport boundary.
func ParseHeader(pkt []byte) (Header, error) {
	if len(pkt) < HeaderLen {
		return Header{}, ErrShortPacket
	}
	flags := pkt[3]
	return Header{
		Version: pkt[0] & 0xf,
		Dest:    Eid(pkt[1]),
		Src:     Eid(pkt[2]),
		SOM:     flags&(1<<7) != 0,
		EOM:     flags&(1<<6) != 0,
		PktSeq:  (flags >> 4) & 0x3,
		TO:      flags&(1<<3) != 0,
		Tag:     TagValue(flags & 0x7),
	}, nil
}

// RouterTag reconstructs the packet's Tag directly from the header's
// TO bit: TO set means the packet's source is the tag owner, i.e.
// IsOwner() true on an inbound packet means the remote allocated this tag
// and is opening a new flow (the listener path); IsOwner() false means the
// local endpoint allocated it earlier and this packet is a reply (the
// response path).
func (h Header) RouterTag() Tag {
	return Tag{value: h.Tag, owned: h.TO}
}

// TypeByte packs the message-integrity-check bit and MsgType that follow
// the header on the first packet of a message (DSP0236 §8.2).
type TypeByte struct {
	IC  MsgIC
	Typ MsgType
}

// Marshal encodes t into its single wire byte.
func (t TypeByte) Marshal() byte {
	b := uint8(t.Typ) & 0x7f
	if t.IC {
		b |= 1 << 7
	}
	return b
}

// ParseTypeByte decodes the message-type byte that immediately follows the
// header in a SOM packet.
func ParseTypeByte(b byte) TypeByte {
	return TypeByte{
		IC:  b&(1<<7) != 0,
		Typ: MsgType(b & 0x7f),
	}
}
