package echo

import (
	"context"
	"net"

	"github.com/DrC0ns0le/echo-perf/internal/protocol"
)

// dialUDP connects a UDP socket to the server, so the kernel only delivers
// datagrams coming from that address.
func dialUDP(ctx context.Context, config ClientConfig) (*Client, error) {
	remote, err := protocol.ResolveAddr(protocol.UDP, config.RemoteAddr)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{}
	if config.LocalAddr != "" {
		local, err := protocol.ResolveAddr(protocol.UDP, config.LocalAddr)
		if err != nil {
			return nil, err
		}
		dialer.LocalAddr = local
	}

	conn, err := dialer.DialContext(ctx, "udp", remote.String())
	if err != nil {
		return nil, protocol.NewTransportError("dial", err)
	}

	return &Client{
		conn: conn,
		// room for any datagram, so an oversized reply fails verification
		// instead of being truncated into a match
		buf:       make([]byte, protocol.MaxDatagramSize),
		readReply: conn.Read,
	}, nil
}
