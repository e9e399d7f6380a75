package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-mctp/internal/wire"
)

func TestPortQueueRoundTrip(t *testing.T) {
	prod, cons := NewPortQueue(2)
	ctx := context.Background()

	slot, err := prod.Reserve(ctx)
	require.NoError(t, err)
	slot.Buffer().Set([]byte{1, 2, 3}, wire.Eid(4))
	prod.Commit(slot)

	rslot, err := cons.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "\x01\x02\x03", string(rslot.Buffer().Bytes()))
	require.Equal(t, wire.Eid(4), rslot.Buffer().Dest())
	cons.Release(rslot)
}

func TestPortQueueTryReserveWhenFull(t *testing.T) {
	prod, _ := NewPortQueue(1)

	s1, ok := prod.TryReserve()
	require.True(t, ok, "expected first TryReserve to succeed")
	s1.Buffer().Set([]byte{9}, 0)
	prod.Commit(s1)

	_, ok = prod.TryReserve()
	require.False(t, ok, "expected TryReserve to fail when ring is full")
}

func TestPortQueueTryReceiveWhenEmpty(t *testing.T) {
	_, cons := NewPortQueue(1)
	_, ok := cons.TryReceive()
	require.False(t, ok, "expected TryReceive to fail on an empty ring")
}

func TestPortQueueReserveBlocksUntilRelease(t *testing.T) {
	prod, cons := NewPortQueue(1)
	ctx := context.Background()

	first, _ := prod.Reserve(ctx)
	first.Buffer().Set([]byte{1}, 0)
	prod.Commit(first)

	done := make(chan struct{})
	go func() {
		slot, err := prod.Reserve(ctx)
		if !assert.NoError(t, err) {
			return
		}
		slot.Buffer().Set([]byte{2}, 0)
		prod.Commit(slot)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Reserve should not have succeeded before the first slot drained")
	case <-time.After(20 * time.Millisecond):
	}

	rslot, err := cons.Receive(ctx)
	require.NoError(t, err)
	cons.Release(rslot)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reserve did not unblock after Release")
	}
}

func TestPortQueueReserveRespectsContext(t *testing.T) {
	prod, _ := NewPortQueue(1)
	s, _ := prod.TryReserve()
	s.Buffer().Set([]byte{1}, 0)
	prod.Commit(s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := prod.Reserve(ctx)
	require.Error(t, err, "expected Reserve to respect context deadline when the ring stays full")
}

func TestPacketBufferSetPanicsOnOversize(t *testing.T) {
	defer func() {
		assert.NotNil(t, recover(), "expected Set to panic on an over-MTU payload")
	}()
	var b PacketBuffer
	b.Set(make([]byte, 1<<20), 0)
}
