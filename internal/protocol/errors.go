package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure so callers can branch on its category.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAddress is a malformed or unresolvable address, raised before any I/O.
	KindAddress
	// KindTransport covers bind, dial, accept, send, receive, read and write failures.
	KindTransport
	// KindProtocol is a reply that does not match the expected echo frame.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error is an address or transport failure. Op names the failed operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ViolationError reports a reply that differs from the expected echo frame.
// It is recoverable: the exchange failed but the transport is still usable.
type ViolationError struct {
	Got  []byte
	Want []byte
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("protocol violation: got %q (%d bytes), want %q", e.Got, len(e.Got), e.Want)
}

func NewAddressError(addr string, err error) error {
	return &Error{
		Kind: KindAddress,
		Op:   "resolve",
		Err:  errors.Wrapf(err, "invalid address %q", addr),
	}
}

// NewTransportError wraps err as a transport failure of op. A nil err stays nil.
func NewTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind: KindTransport,
		Op:   op,
		Err:  errors.Wrap(err, op),
	}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var v *ViolationError
	if errors.As(err, &v) {
		return KindProtocol
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsViolation(err error) bool { return KindOf(err) == KindProtocol }
func IsTransport(err error) bool { return KindOf(err) == KindTransport }
func IsAddress(err error) bool   { return KindOf(err) == KindAddress }
