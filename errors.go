package s7

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure so callers can branch on it.
type ErrorKind int

const (
	// KindUnknown is reported by KindOf for errors that did not originate here.
	KindUnknown ErrorKind = iota
	// KindInvalidArgument means the request was rejected before any I/O.
	KindInvalidArgument
	// KindNotConnected means the session is not in the Connected state.
	KindNotConnected
	// KindConnectFailed means the endpoint was unreachable or rejected the handshake.
	KindConnectFailed
	// KindTimeout means no response arrived within the deadline.
	KindTimeout
	// KindIO is a socket-level failure. The connection is dropped.
	KindIO
	// KindProtocol is a malformed or unexpected frame. The connection is dropped.
	KindProtocol
	// KindPLC is a well-formed negative answer from the PLC (error class/code
	// or data item return code). The connection stays usable.
	KindPLC
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotConnected:
		return "not connected"
	case KindConnectFailed:
		return "connect failed"
	case KindTimeout:
		return "timeout"
	case KindIO:
		return "i/o error"
	case KindProtocol:
		return "protocol error"
	case KindPLC:
		return "plc error"
	default:
		return "unknown error"
	}
}

// fatal reports whether an error of this kind leaves the wire in an unknown state.
func (k ErrorKind) fatal() bool {
	return k == KindIO || k == KindProtocol || k == KindTimeout
}

// Error is the structured error returned by every operation.
//
// Code carries the numeric wire code when one exists: the S7 error class and
// code packed as class<<8|code, or a data item return code.
type Error struct {
	Kind   ErrorKind
	Op     string
	Detail string
	Code   uint16
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("s7: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code 0x%04X)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrNotConnected    = &Error{Kind: KindNotConnected}
	ErrConnectFailed   = &Error{Kind: KindConnectFailed}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrIO              = &Error{Kind: KindIO}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrPLC             = &Error{Kind: KindPLC}
)

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func invalidArgument(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func notConnected(op string) *Error {
	return &Error{Kind: KindNotConnected, Op: op}
}

// withOp fills in the operation name on errors produced below the client API.
func withOp(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		e.Op = op
	}
	return err
}

// contextError converts a finished context into the matching error.
// Cancellation is returned as is; an elapsed deadline becomes KindTimeout.
func contextError(op string, ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, op, "deadline exceeded", err)
	}
	return err
}

// S7 error classes reported in the AckData header.
const (
	errClassNoError     = 0x00
	errClassAppRelation = 0x81
	errClassObjDef      = 0x82
	errClassResource    = 0x83
	errClassService     = 0x84
	errClassNoResource  = 0x85
	errClassAccess      = 0x87
)

// Data item return codes.
const (
	dataItemSuccess          = 0xFF
	dataItemHardwareFault    = 0x01
	dataItemAccessDenied     = 0x03
	dataItemAddressError     = 0x05
	dataItemTypeError        = 0x06
	dataItemTypeInconsistent = 0x07
	dataItemNotExist         = 0x0A
)

func headerError(class, code byte) *Error {
	return &Error{
		Kind:   KindPLC,
		Detail: errorClassMessage(class, code),
		Code:   uint16(class)<<8 | uint16(code),
	}
}

func dataItemErr(code byte) *Error {
	return &Error{
		Kind:   KindPLC,
		Detail: dataItemMessage(code),
		Code:   uint16(code),
	}
}

func errorClassMessage(class, code byte) string {
	switch class {
	case errClassNoError:
		return "no error"
	case errClassAppRelation:
		return fmt.Sprintf("application relationship error %d", code)
	case errClassObjDef:
		return fmt.Sprintf("object definition error %d", code)
	case errClassResource:
		return fmt.Sprintf("resource error %d", code)
	case errClassService:
		return fmt.Sprintf("service error %d", code)
	case errClassNoResource:
		return fmt.Sprintf("no resource available, request may exceed PDU size (%d)", code)
	case errClassAccess:
		return fmt.Sprintf("access error %d", code)
	default:
		return fmt.Sprintf("error class 0x%02X code %d", class, code)
	}
}

func dataItemMessage(code byte) string {
	switch code {
	case dataItemHardwareFault:
		return "hardware fault"
	case dataItemAccessDenied:
		return "access denied"
	case dataItemAddressError:
		return "address out of range"
	case dataItemTypeError:
		return "data type not supported"
	case dataItemTypeInconsistent:
		return "data type inconsistent"
	case dataItemNotExist:
		return "object does not exist"
	default:
		return fmt.Sprintf("data item error 0x%02X", code)
	}
}
