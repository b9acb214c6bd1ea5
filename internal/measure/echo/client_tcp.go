package echo

import (
	"context"
	"io"
	"net"

	"github.com/DrC0ns0le/echo-perf/internal/protocol"
)

// dialTCP opens the single connection used for every iteration.
func dialTCP(ctx context.Context, config ClientConfig) (*Client, error) {
	remote, err := protocol.ResolveAddr(protocol.TCP, config.RemoteAddr)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, protocol.NewTransportError("dial", err)
	}

	return &Client{
		conn: conn,
		buf:  make([]byte, protocol.EchoSize),
		// partial reads accumulate until the full frame is in; an early
		// close surfaces as io.ErrUnexpectedEOF or io.EOF
		readReply: func(buf []byte) (int, error) {
			return io.ReadFull(conn, buf)
		},
	}, nil
}
