package mctp

import (
	"errors"
	"fmt"

	"github.com/behrlich/go-mctp/internal/wire"
)

// ErrorCode is the router's small error taxonomy.
type ErrorCode int

const (
	// CodeNoSpace: buffer too small (listener recv buf, flatten buffer,
	// packet > MTU on forward).
	CodeNoSpace ErrorCode = iota
	// CodeTxFailure: no route, invalid port id, ring full during forward.
	CodeTxFailure
	// CodeBadArgument: misused API (unbind invalid cookie, tag_noexpire
	// after send, recv without prior send, mtu > MAX_MTU at port build).
	CodeBadArgument
	// CodeAddrInUse: second listener bind for same message type.
	CodeAddrInUse
	// CodeInternalError: listener delivery produced a non-owned tag --
	// should be impossible, fatal for that receive.
	CodeInternalError
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNoSpace:
		return "NoSpace"
	case CodeTxFailure:
		return "TxFailure"
	case CodeBadArgument:
		return "BadArgument"
	case CodeAddrInUse:
		return "AddrInUse"
	case CodeInternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Error is the router's structured error type, carrying the failing
// operation name plus whichever of EID/PortID are relevant.
type Error struct {
	Op     string
	Eid    wire.Eid
	HasEid bool
	Port   wire.PortID
	HasPort bool
	Code   ErrorCode
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("mctp: %s: %s", e.Op, e.Code)
	if e.HasEid {
		s += fmt.Sprintf(" eid=%d", uint8(e.Eid))
	}
	if e.HasPort {
		s += fmt.Sprintf(" port=%d", int(e.Port))
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Inner != nil {
		s += ": " + e.Inner.Error()
	}
	return s
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Inner }

// Is reports equality by error code, so errors.Is(err, target) matches any
// *Error carrying target's code; IsCode does the same check from a bare
// ErrorCode.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError builds an Error for operation op with the given code and
// message.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError builds an Error that carries an underlying cause.
func WrapError(op string, code ErrorCode, inner error) *Error {
	return &Error{Op: op, Code: code, Inner: inner}
}

// WithEID annotates the error with the EID under discussion.
func (e *Error) WithEID(eid wire.Eid) *Error {
	e.Eid = eid
	e.HasEid = true
	return e
}

// WithPort annotates the error with the PortID under discussion.
func (e *Error) WithPort(port wire.PortID) *Error {
	e.Port = port
	e.HasPort = true
	return e
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
