package mctp

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mctp/internal/wire"
)

func wellFormedPacket(t *testing.T, dest, src wire.Eid, totalLen int) []byte {
	t.Helper()
	h := wire.Header{Version: wire.HeaderVersion, Dest: dest, Src: src, SOM: true, EOM: true, TO: true, Tag: 1}
	hdr := h.Marshal()
	pkt := append([]byte{}, hdr[:]...)
	tb := wire.TypeByte{IC: false, Typ: 0x5}
	pkt = append(pkt, tb.Marshal())
	for len(pkt) < totalLen {
		pkt = append(pkt, 0x00)
	}
	return pkt[:totalLen]
}

// S2: Forward by route.
func TestScenarioForwardByRoute(t *testing.T) {
	lookup := NewMockPortLookup()
	lookup.Add(12, 1)
	router := NewRouter(DefaultConfig(wire.Eid(8), lookup))

	port1, cons1, err := NewPort(PortConfig{ID: 1, MTU: 64, QueueDepth: 4}, router.Metrics(), nil)
	require.NoError(t, err)
	router.AttachPort(port1)

	pkt := wellFormedPacket(t, 12, 5, 40)
	src := router.Inbound(pkt, 0)
	require.NotNil(t, src)
	require.Equal(t, wire.Eid(5), *src)

	slot, ok := cons1.TryReceive()
	require.True(t, ok, "expected the forwarded packet to appear at port 1's consumer")
	require.True(t, bytes.Equal(slot.Buffer().Bytes(), pkt))
	require.Equal(t, wire.Eid(12), slot.Buffer().Dest())
	cons1.Release(slot)

	_, ok = cons1.TryReceive()
	require.False(t, ok, "expected exactly one forwarded packet")
}

// S3: Forward drop on ring full.
func TestScenarioForwardDropOnRingFull(t *testing.T) {
	lookup := NewMockPortLookup()
	lookup.Add(12, 1)
	router := NewRouter(DefaultConfig(wire.Eid(8), lookup))

	port1, cons1, err := NewPort(PortConfig{ID: 1, MTU: 64, QueueDepth: 1}, router.Metrics(), nil)
	require.NoError(t, err)
	router.AttachPort(port1)

	pkt1 := wellFormedPacket(t, 12, 5, 30)
	pkt2 := wellFormedPacket(t, 12, 5, 32)

	src1 := router.Inbound(pkt1, 0)
	src2 := router.Inbound(pkt2, 0)
	require.NotNil(t, src1)
	require.Equal(t, wire.Eid(5), *src1)
	require.NotNil(t, src2, "second Inbound should still report a source even though dropped")
	require.Equal(t, wire.Eid(5), *src2)

	slot, ok := cons1.TryReceive()
	require.True(t, ok, "expected the first packet to have been enqueued")
	require.True(t, bytes.Equal(slot.Buffer().Bytes(), pkt1), "expected the enqueued packet to be the first one submitted")
	cons1.Release(slot)

	_, ok = cons1.TryReceive()
	require.False(t, ok, "expected the second packet to have been dropped, not enqueued")

	require.EqualValues(t, 1, router.Metrics().ForwardDropped.Load())
}

// S6: Large message fragmentation.
func TestScenarioLargeMessageFragmentation(t *testing.T) {
	lookup := NewMockPortLookup()
	lookup.Add(9, 0)
	router := NewRouter(DefaultConfig(wire.Eid(8), lookup))

	port0, cons0, err := NewPort(PortConfig{ID: 0, MTU: 69, QueueDepth: 4}, router.Metrics(), nil)
	require.NoError(t, err)
	router.AttachPort(port0)

	payload := bytes.Repeat([]byte{0x7}, 200)
	req := router.Req(wire.Eid(9))
	tag, err := req.SendVectored(context.Background(), 0x3, false, [][]byte{payload})
	require.NoError(t, err)

	var reassembled []byte
	var got []wire.Header
	for i := 0; i < 10; i++ {
		slot, ok := cons0.TryReceive()
		if !ok {
			break
		}
		h, err := wire.ParseHeader(slot.Buffer().Bytes())
		require.NoError(t, err)
		got = append(got, h)
		body := slot.Buffer().Bytes()[wire.HeaderLen:]
		if h.SOM {
			body = body[1:]
		}
		reassembled = append(reassembled, body...)
		cons0.Release(slot)
	}

	require.Len(t, got, 4)
	require.True(t, got[0].SOM && !got[0].EOM, "packet 0 flags = %+v, want SOM only", got[0])
	require.True(t, !got[1].SOM && !got[1].EOM, "packet 1 flags = %+v, want neither SOM nor EOM", got[1])
	require.True(t, !got[2].SOM && !got[2].EOM, "packet 2 flags = %+v, want neither SOM nor EOM", got[2])
	require.True(t, !got[3].SOM && got[3].EOM, "packet 3 flags = %+v, want EOM only", got[3])
	for _, h := range got {
		require.Equal(t, got[0].Tag, h.Tag, "tag mismatch across fragments")
		require.Equal(t, got[0].TO, h.TO, "TO mismatch across fragments")
	}
	require.True(t, bytes.Equal(reassembled, payload), "reassembled payload did not match the original 200-byte input")
	require.True(t, tag.IsOwner(), "expected the allocated send tag to be Owned")
}
