package mctp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mctp/internal/wire"
)

func packetFor(h wire.Header, typ wire.MsgType, ic wire.MsgIC, payload []byte) []byte {
	hdr := h.Marshal()
	pkt := append([]byte{}, hdr[:]...)
	tb := wire.TypeByte{IC: ic, Typ: typ}
	pkt = append(pkt, tb.Marshal())
	return append(pkt, payload...)
}

// S1: Local listener delivery.
func TestScenarioLocalListenerDelivery(t *testing.T) {
	router := NewRouter(DefaultConfig(wire.Eid(8), NewMockPortLookup()))

	listener, err := router.Listener(0x7E)
	require.NoError(t, err)
	defer listener.Close()

	h := wire.Header{Version: wire.HeaderVersion, Dest: 8, Src: 9, SOM: true, EOM: true, TO: true, Tag: 3}
	pkt := packetFor(h, 0x7E, false, []byte{0xAA, 0xBB})

	src := router.Inbound(pkt, 0)
	require.NotNil(t, src)
	require.Equal(t, wire.Eid(9), *src)

	buf := make([]byte, 16)
	n, resp, typ, ic, err := listener.Recv(context.Background(), buf)
	require.NoError(t, err)
	require.EqualValues(t, 0x7E, typ)
	require.False(t, bool(ic))
	require.Equal(t, "\xAA\xBB", string(buf[:n]))
	require.EqualValues(t, 9, resp.eid)
	require.EqualValues(t, 3, resp.tv)
}

// S4: Request/response round trip.
func TestScenarioRequestResponseRoundTrip(t *testing.T) {
	lookup := NewMockPortLookup()
	lookup.Add(9, 0)
	router := NewRouter(DefaultConfig(wire.Eid(8), lookup))

	port, _, err := NewPort(DefaultPortConfig(0), router.Metrics(), nil)
	require.NoError(t, err)
	router.AttachPort(port)

	ctx := context.Background()
	req := router.Req(wire.Eid(9))
	tag, err := req.SendVectored(ctx, 0x2, false, [][]byte{{0x01, 0x02, 0x03}})
	require.NoError(t, err)
	require.True(t, tag.IsOwner(), "expected a freshly allocated request tag to be Owned")

	replyHeader := wire.Header{Version: wire.HeaderVersion, Dest: 8, Src: 9, SOM: true, EOM: true, TO: false, Tag: tag.Value()}
	replyPkt := packetFor(replyHeader, 0x2, false, []byte{0x04})
	src := router.Inbound(replyPkt, 0)
	require.NotNil(t, src)
	require.Equal(t, wire.Eid(9), *src)

	buf := make([]byte, 4)
	n, typ, ic, err := req.Recv(ctx, buf)
	require.NoError(t, err)
	require.EqualValues(t, 0x2, typ)
	require.False(t, bool(ic))
	require.Equal(t, "\x04", string(buf[:n]))
}

// S5: Duplicate listener bind.
func TestScenarioDuplicateListenerBind(t *testing.T) {
	router := NewRouter(DefaultConfig(wire.Eid(8), NewMockPortLookup()))

	first, err := router.Listener(0x10)
	require.NoError(t, err)
	defer first.Close()

	_, err = router.Listener(0x10)
	require.True(t, IsCode(err, CodeAddrInUse), "error = %v, want CodeAddrInUse", err)
}

func TestRouterEIDGetSet(t *testing.T) {
	router := NewRouter(DefaultConfig(wire.Eid(8), NewMockPortLookup()))
	require.EqualValues(t, 8, router.EID())
	router.SetEID(20)
	require.EqualValues(t, 20, router.EID())
}

func TestRouterUpdateTimeCapsInterval(t *testing.T) {
	router := NewRouter(DefaultConfig(wire.Eid(8), NewMockPortLookup()))
	d := router.UpdateTime(1000)
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, TickIntervalCap)
}
