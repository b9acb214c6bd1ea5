package echo

import (
	"context"
	"net"
	"sync"

	"github.com/DrC0ns0le/echo-perf/internal/protocol"
	"github.com/DrC0ns0le/echo-perf/pkg/logging"
	"github.com/pkg/errors"
)

type ServerConfig struct {
	// Transport selects the UDP or TCP variant
	Transport protocol.Transport
	// Address is the local address to bind
	Address string

	Logger logging.Logger
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Transport == "" {
		c.Transport = protocol.TCP
	}
	if c.Address == "" {
		c.Address = protocol.DefaultListenAddr
	}
	if c.Logger == nil {
		c.Logger = logging.NewDefaultLogger()
	}
	return c
}

// Server echoes every request frame back doubled.
//
// The UDP variant handles one datagram at a time on a single reused buffer:
// receive, transform, send, then receive again. The TCP variant runs one
// goroutine per accepted connection; connections share nothing.
type Server struct {
	config ServerConfig
	logger logging.Logger

	mu       sync.Mutex
	udpConn  *net.UDPConn
	listener net.Listener
	closed   bool
}

func NewServer(config ServerConfig) *Server {
	config = config.withDefaults()
	return &Server{
		config: config,
		logger: config.Logger.With("component", "server", "transport", config.Transport.String()),
	}
}

// Listen binds the configured address. An unparsable address is an
// address error, a failed bind a transport error.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.udpConn != nil || s.listener != nil {
		return errors.Errorf("already listening on %s", s.config.Address)
	}

	addr, err := protocol.ResolveAddr(s.config.Transport, s.config.Address)
	if err != nil {
		return err
	}

	lc := net.ListenConfig{}

	switch s.config.Transport {
	case protocol.UDP:
		pc, err := lc.ListenPacket(ctx, "udp", addr.String())
		if err != nil {
			return protocol.NewTransportError("bind", err)
		}
		s.udpConn = pc.(*net.UDPConn)
	default:
		ln, err := lc.Listen(ctx, "tcp", addr.String())
		if err != nil {
			return protocol.NewTransportError("bind", err)
		}
		s.listener = ln
	}

	s.logger.Infof("Listening on: %s", s.addrLocked())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrLocked()
}

func (s *Server) addrLocked() net.Addr {
	switch {
	case s.udpConn != nil:
		return s.udpConn.LocalAddr()
	case s.listener != nil:
		return s.listener.Addr()
	}
	return nil
}

// Serve runs the echo loop until a fatal transport error or until ctx is
// cancelled. Cancellation closes the socket and makes Serve return nil.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	udpConn, listener := s.udpConn, s.listener
	s.mu.Unlock()

	if udpConn == nil && listener == nil {
		return errors.New("server not listening, call Listen() first")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	var err error
	if udpConn != nil {
		err = s.serveUDP(udpConn)
	} else {
		err = s.serveTCP(ctx, listener)
	}

	if s.isClosed() {
		return nil
	}
	return err
}

// Close releases the socket. Open TCP connections stay up until their
// peer disconnects or the Serve context is cancelled.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	switch {
	case s.udpConn != nil:
		return s.udpConn.Close()
	case s.listener != nil:
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
