package echo

import (
	"net"
	"time"

	"github.com/DrC0ns0le/echo-perf/internal/protocol"
)

// serveUDP replies to whoever sent the datagram just received. Any receive
// or send error ends the loop; a receive failing after Close is not counted.
func (s *Server) serveUDP(conn *net.UDPConn) error {
	transport := protocol.UDP.String()
	buf := make([]byte, protocol.ProbeSize)

	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !s.isClosed() {
				errorsTotal.WithLabelValues(transport, "receive").Inc()
			}
			return protocol.NewTransportError("receive", err)
		}

		start := time.Now()
		reply := protocol.Transform(buf, n)

		if _, err := conn.WriteToUDP(reply, peer); err != nil {
			errorsTotal.WithLabelValues(transport, "send").Inc()
			return protocol.NewTransportError("send", err)
		}

		processDuration.WithLabelValues(transport).Observe(float64(time.Since(start).Microseconds()))
		exchangesTotal.WithLabelValues(transport).Inc()
		s.logger.Debugf("echoed %d/%d bytes to %s (%s)", len(reply), n, peer, connID(peer))
	}
}
