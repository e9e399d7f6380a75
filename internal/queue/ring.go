// Package queue implements the zero-copy single-producer/single-consumer
// ring buffer that backs every Port's packet hand-off between the
// router's forwarding path and the driver goroutine doing wire I/O: a
// fixed pool of preallocated buffers threaded between exactly one
// producer and one consumer using channels as pure index tokens, never
// as payload carriers, so no packet is ever copied between goroutines.
package queue

import (
	"context"

	"github.com/behrlich/go-mctp/internal/constants"
	"github.com/behrlich/go-mctp/internal/wire"
)

// PacketBuffer is a fixed-capacity packet slot owned by a ring. Callers
// hold a pointer into the ring's backing array for the lifetime of a
// reservation; the bytes are never copied into or out of channels.
type PacketBuffer struct {
	data [constants.MaxMTU]byte
	len  int
	dest wire.Eid
}

// Set copies data into the buffer and records the packet header's
// destination EID. It panics if data exceeds MaxMTU rather than
// threading an error through a hot path that should never see one.
func (b *PacketBuffer) Set(data []byte, dest wire.Eid) {
	if len(data) > constants.MaxMTU {
		panic("queue: packet exceeds MaxMTU")
	}
	n := copy(b.data[:], data)
	b.len = n
	b.dest = dest
}

// Bytes returns the valid portion of the buffer.
func (b *PacketBuffer) Bytes() []byte { return b.data[:b.len] }

// Raw exposes the full backing array so a collaborator such as a
// Fragmenter can write a packet directly into the slot, with no
// intermediate staging copy. Pair a Raw write with Finalize.
func (b *PacketBuffer) Raw() []byte { return b.data[:] }

// Finalize records how many bytes a direct Raw write produced and the
// packet's destination EID, without copying.
func (b *PacketBuffer) Finalize(n int, dest wire.Eid) {
	b.len = n
	b.dest = dest
}

// Len reports how many bytes are currently valid in the buffer.
func (b *PacketBuffer) Len() int { return b.len }

// Dest returns the destination EID recorded by the last Set or Finalize
// call.
func (b *PacketBuffer) Dest() wire.Eid { return b.dest }

// Reset clears the buffer back to empty, keeping the backing array.
func (b *PacketBuffer) Reset() {
	b.len = 0
	b.dest = 0
}

// ring is the shared state behind a Producer/Consumer pair. space holds
// indices of free slots; ready holds indices of slots filled by the
// producer and not yet drained by the consumer. Depth-sized buffering on
// both channels means Commit and Release never block on the channel send
// itself -- only Reserve and Receive ever wait.
type ring struct {
	slots []PacketBuffer
	space chan int
	ready chan int
}

// NewPortQueue builds a depth-deep ring and returns its producer and
// consumer halves. A depth below 1 falls back to DefaultForwardQueue.
func NewPortQueue(depth int) (*Producer, *Consumer) {
	if depth < 1 {
		depth = constants.DefaultForwardQueue
	}
	r := &ring{
		slots: make([]PacketBuffer, depth),
		space: make(chan int, depth),
		ready: make(chan int, depth),
	}
	for i := 0; i < depth; i++ {
		r.space <- i
	}
	return &Producer{r: r}, &Consumer{r: r}
}

// Slot is a reservation on one ring buffer index. It must be passed back
// to Commit (producer side) or Release (consumer side) exactly once.
type Slot struct {
	r   *ring
	buf *PacketBuffer
	idx int
}

// Buffer returns the packet buffer this slot reserved.
func (s *Slot) Buffer() *PacketBuffer { return s.buf }

// Producer is the single writer side of a ring.
type Producer struct{ r *ring }

// Reserve blocks until a free slot is available or ctx is done.
func (p *Producer) Reserve(ctx context.Context) (*Slot, error) {
	select {
	case idx := <-p.r.space:
		return &Slot{r: p.r, buf: &p.r.slots[idx], idx: idx}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryReserve attempts to reserve a free slot without blocking.
func (p *Producer) TryReserve() (*Slot, bool) {
	select {
	case idx := <-p.r.space:
		return &Slot{r: p.r, buf: &p.r.slots[idx], idx: idx}, true
	default:
		return nil, false
	}
}

// Commit publishes a reserved, filled slot to the consumer. It never
// blocks: space and ready are sized identically, so a slot taken from
// space always has room to land back in ready.
func (p *Producer) Commit(s *Slot) {
	s.r.ready <- s.idx
}

// Abandon returns a reserved slot to the free pool without publishing it,
// for a producer that reserved a slot but then failed to fill it (for
// example, a Fragmenter error encountered before any bytes were
// finalized into the slot).
func (p *Producer) Abandon(s *Slot) {
	s.buf.Reset()
	s.r.space <- s.idx
}

// Consumer is the single reader side of a ring.
type Consumer struct{ r *ring }

// Receive blocks until a filled slot is available or ctx is done.
func (c *Consumer) Receive(ctx context.Context) (*Slot, error) {
	select {
	case idx := <-c.r.ready:
		return &Slot{r: c.r, buf: &c.r.slots[idx], idx: idx}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryReceive attempts to take a filled slot without blocking.
func (c *Consumer) TryReceive() (*Slot, bool) {
	select {
	case idx := <-c.r.ready:
		return &Slot{r: c.r, buf: &c.r.slots[idx], idx: idx}, true
	default:
		return nil, false
	}
}

// Release returns a drained slot to the free pool, resetting it first so
// the next producer reservation never observes stale bytes or a stale
// destination.
func (c *Consumer) Release(s *Slot) {
	s.buf.Reset()
	s.r.space <- s.idx
}
