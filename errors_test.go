package mctp

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesContext(t *testing.T) {
	err := NewError("forward_packet", CodeTxFailure, "port queue full").WithPort(3).WithEID(9)
	msg := err.Error()
	for _, want := range []string{"forward_packet", "TxFailure", "port=3", "eid=9", "port queue full"} {
		assert.True(t, strings.Contains(msg, want), "Error() = %q, missing %q", msg, want)
	}
}

func TestErrorIsCode(t *testing.T) {
	err := NewError("app_bind", CodeAddrInUse, "dup")
	assert.True(t, IsCode(err, CodeAddrInUse))
	assert.False(t, IsCode(err, CodeNoSpace))
}

func TestWrapErrorUnwraps(t *testing.T) {
	inner := errors.New("underlying")
	wrapped := WrapError("app_send_message", CodeTxFailure, inner)
	require.ErrorIs(t, wrapped, inner)
}

func TestErrorIsComparesByCode(t *testing.T) {
	a := NewError("x", CodeNoSpace, "a")
	b := NewError("y", CodeNoSpace, "b")
	c := NewError("z", CodeTxFailure, "c")
	assert.ErrorIs(t, a, b, "expected two NoSpace errors to match via errors.Is")
	assert.False(t, errors.Is(a, c), "expected a NoSpace error not to match a TxFailure error")
}
