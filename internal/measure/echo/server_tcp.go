package echo

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/DrC0ns0le/echo-perf/internal/protocol"
	"github.com/pkg/errors"
)

// connState tracks where a connection handler is in its exchange loop.
type connState int

const (
	waitingForFrame connState = iota
	transforming
	writingResponse
)

func (s connState) String() string {
	switch s {
	case waitingForFrame:
		return "waiting-for-frame"
	case transforming:
		return "transforming"
	case writingResponse:
		return "writing-response"
	default:
		return "unknown"
	}
}

// serveTCP accepts until the listener fails. Each connection gets its own
// goroutine and never blocks the accept loop.
func (s *Server) serveTCP(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.isClosed() {
				errorsTotal.WithLabelValues(protocol.TCP.String(), "accept").Inc()
			}
			return protocol.NewTransportError("accept", err)
		}

		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	peer := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}
	logger := s.logger.With("conn", connID(conn.RemoteAddr()), "peer", peer)

	activeConnections.Inc()
	defer activeConnections.Dec()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	logger.Debugf("accepted connection")
	state, err := serveConn(conn)
	conn.Close()

	switch {
	case errors.Is(err, io.EOF):
		logger.Debugf("connection closed by peer")
	case ctx.Err() != nil:
		logger.Debugf("connection closed on shutdown")
	default:
		errorsTotal.WithLabelValues(protocol.TCP.String(), stateOp(state)).Inc()
		logger.Errorf("dropped while %s: %v", state, err)
	}
}

func stateOp(state connState) string {
	if state == writingResponse {
		return "write"
	}
	return "read"
}

// serveConn loops waiting-for-frame -> transforming -> writing-response until
// an I/O error, returning the state the connection failed in. io.EOF means the
// peer closed cleanly between frames.
func serveConn(conn net.Conn) (connState, error) {
	transport := protocol.TCP.String()
	buf := make([]byte, protocol.ProbeSize)
	state := waitingForFrame

	for {
		n, err := io.ReadFull(conn, buf)
		if err != nil {
			return state, protocol.NewTransportError("read", err)
		}

		state = transforming
		start := time.Now()
		reply := protocol.Transform(buf, n)

		state = writingResponse
		if _, err := conn.Write(reply); err != nil {
			return state, protocol.NewTransportError("write", err)
		}

		processDuration.WithLabelValues(transport).Observe(float64(time.Since(start).Microseconds()))
		exchangesTotal.WithLabelValues(transport).Inc()
		state = waitingForFrame
	}
}
