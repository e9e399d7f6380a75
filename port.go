package mctp

import (
	"context"
	"sync"

	"github.com/behrlich/go-mctp/internal/constants"
	"github.com/behrlich/go-mctp/internal/logging"
	"github.com/behrlich/go-mctp/internal/queue"
	"github.com/behrlich/go-mctp/internal/stack"
	"github.com/behrlich/go-mctp/internal/wire"
)

// Port pairs one Port Queue's producer (top) with a configured MTU and a
// scratch buffer used to flatten vectored sends before fragmentation.
// The consumer (bottom) returned by NewPort belongs to a transport
// driver and is never touched by Port itself.
type Port struct {
	id  wire.PortID
	mtu int

	producer   *queue.Producer
	producerMu sync.Mutex

	flattenMu  sync.Mutex
	flattenBuf []byte

	metrics *Metrics
	log     *logging.Logger
}

// PortConfig configures a single Port.
type PortConfig struct {
	ID         wire.PortID
	MTU        int
	QueueDepth int
}

// DefaultPortConfig returns a PortConfig using the default forward queue
// depth and the maximum MTU.
func DefaultPortConfig(id wire.PortID) PortConfig {
	return PortConfig{ID: id, MTU: constants.MaxMTU, QueueDepth: constants.DefaultForwardQueue}
}

// NewPort builds a Port and its paired consumer, which the caller hands
// to whichever transport driver owns this physical interface. It rejects
// an oversized MTU with CodeBadArgument.
func NewPort(cfg PortConfig, metrics *Metrics, log *logging.Logger) (*Port, *queue.Consumer, error) {
	if cfg.MTU <= 0 || cfg.MTU > constants.MaxMTU {
		return nil, nil, NewError("new_port", CodeBadArgument, "mtu out of range").WithPort(cfg.ID)
	}
	if log == nil {
		log = logging.Default()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = constants.DefaultForwardQueue
	}
	producer, consumer := queue.NewPortQueue(depth)
	p := &Port{
		id:         cfg.ID,
		mtu:        cfg.MTU,
		producer:   producer,
		flattenBuf: make([]byte, 0, constants.MaxPayload),
		metrics:    metrics,
		log:        log.WithPort(int(cfg.ID)),
	}
	return p, consumer, nil
}

// ID returns this port's identifier.
func (p *Port) ID() wire.PortID { return p.id }

// MTU returns this port's configured maximum transmission unit.
func (p *Port) MTU() int { return p.mtu }

// ForwardPacket is a non-blocking attempt to enqueue pkt for this port's
// driver: it never waits for a free slot (a full ring drops the packet
// with TxFailure) and never waits while holding the producer mutex. It
// can wait to acquire that mutex while a SendMessage on this port holds
// it. It must not be called with any other lock held.
func (p *Port) ForwardPacket(pkt []byte) error {
	if len(pkt) > p.mtu {
		return NewError("forward_packet", CodeNoSpace, "packet exceeds port mtu").WithPort(p.id)
	}

	p.producerMu.Lock()
	slot, ok := p.producer.TryReserve()
	if !ok {
		p.producerMu.Unlock()
		if p.metrics != nil {
			p.metrics.ForwardDropped.Add(1)
		}
		return NewError("forward_packet", CodeTxFailure, "port queue full").WithPort(p.id)
	}
	h, _ := wire.ParseHeader(pkt)
	slot.Buffer().Set(pkt, h.Dest)
	p.producer.Commit(slot)
	p.producerMu.Unlock()

	if p.metrics != nil {
		p.metrics.Forwarded.Add(1)
	}
	return nil
}

// SendMessage flattens chunks (taking the flatten-buffer mutex only for
// the concatenation), then repeatedly reserves a producer slot, lets
// frag write one packet straight into the slot, and commits --
// reacquiring the producer mutex per packet so long messages do not
// starve other producers.
func (p *Port) SendMessage(ctx context.Context, frag *stack.Fragmenter, chunks [][]byte) (wire.Tag, error) {
	payload, err := p.flatten(chunks)
	if err != nil {
		return wire.Tag{}, err
	}

	for {
		p.producerMu.Lock()
		slot, rerr := p.producer.Reserve(ctx)
		if rerr != nil {
			p.producerMu.Unlock()
			return wire.Tag{}, WrapError("send_message", CodeTxFailure, rerr).WithPort(p.id)
		}

		n, done, ferr := frag.Fragment(payload, slot.Buffer().Raw())
		if ferr != nil {
			p.producer.Abandon(slot)
			p.producerMu.Unlock()
			return wire.Tag{}, WrapError("send_message", CodeInternalError, ferr).WithPort(p.id)
		}
		slot.Buffer().Finalize(n, frag.Dest())
		p.producer.Commit(slot)
		p.producerMu.Unlock()

		if p.metrics != nil {
			p.metrics.PacketsFragmented.Add(1)
		}
		if done {
			return frag.Tag(), nil
		}
	}
}

// flatten concatenates chunks under the flatten-buffer mutex, releasing
// it before returning so fragmentation (which may suspend reserving a
// producer slot) never runs with the mutex held. A single chunk is
// returned directly with no copy. Multi-chunk sends copy into a
// right-sized, freshly allocated slice rather than handing back a pointer
// into the shared scratch array, so a second concurrent sender beginning
// its own flatten cannot corrupt a send still mid-fragmentation.
func (p *Port) flatten(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	p.flattenMu.Lock()
	defer p.flattenMu.Unlock()

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total > constants.MaxPayload {
		return nil, NewError("send_message", CodeNoSpace, "flattened payload exceeds MaxPayload").WithPort(p.id)
	}

	p.flattenBuf = p.flattenBuf[:0]
	for _, c := range chunks {
		p.flattenBuf = append(p.flattenBuf, c...)
	}
	out := make([]byte, total)
	copy(out, p.flattenBuf)
	return out, nil
}
