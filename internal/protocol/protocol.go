package protocol

import (
	"bytes"
	"net"
)

const (
	// ProbeText is the request payload sent by the client.
	ProbeText = "proto!"
	// EchoText is the reply the server must produce for ProbeText.
	EchoText = ProbeText + ProbeText

	ProbeSize = len(ProbeText)
	EchoSize  = len(EchoText)

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507

	DefaultListenAddr = "[::]:4080"
)

// Probe returns a fresh copy of the request frame.
func Probe() []byte {
	return []byte(ProbeText)
}

// Echo returns a fresh copy of the expected reply frame.
func Echo() []byte {
	return []byte(EchoText)
}

// Transform returns buf[:n] followed by a second copy of buf[:n].
// n is clamped to the bounds of buf.
func Transform(buf []byte, n int) []byte {
	if n < 0 {
		n = 0
	}
	if n > len(buf) {
		n = len(buf)
	}

	out := make([]byte, 2*n)
	copy(out, buf[:n])
	copy(out[n:], buf[:n])
	return out
}

// Verify checks a reply against the expected echo frame.
func Verify(reply []byte) error {
	if bytes.Equal(reply, []byte(EchoText)) {
		return nil
	}
	got := make([]byte, len(reply))
	copy(got, reply)
	return &ViolationError{Got: got, Want: Echo()}
}

type Transport string

const (
	UDP Transport = "udp"
	TCP Transport = "tcp"
)

// ParseTransport selects UDP only for the exact string "udp"; anything else is TCP.
func ParseTransport(s string) Transport {
	if s == string(UDP) {
		return UDP
	}
	return TCP
}

func (t Transport) String() string {
	return string(t)
}

// ResolveAddr parses addr for the given transport. Failures are AddressErrors.
func ResolveAddr(t Transport, addr string) (net.Addr, error) {
	var (
		resolved net.Addr
		err      error
	)
	switch t {
	case UDP:
		resolved, err = net.ResolveUDPAddr("udp", addr)
	default:
		resolved, err = net.ResolveTCPAddr("tcp", addr)
	}
	if err != nil {
		return nil, NewAddressError(addr, err)
	}
	return resolved, nil
}
