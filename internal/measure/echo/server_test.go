package echo

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/DrC0ns0le/echo-perf/internal/protocol"
	"github.com/DrC0ns0le/echo-perf/pkg/logging"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const ioTimeout = 5 * time.Second

func startServer(t *testing.T, transport protocol.Transport) *Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(ServerConfig{
		Transport: transport,
		Address:   "127.0.0.1:0",
		Logger:    logging.NewNopLogger(),
	})
	if err := s.Listen(ctx); err != nil {
		cancel()
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("serve returned %v after cancel", err)
			}
		case <-time.After(ioTimeout):
			t.Error("server did not stop")
		}
	})
	return s
}

func dialRaw(t *testing.T, network string, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial(network, addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(ioTimeout))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn net.Conn, payload string, replySize int) string {
	t.Helper()
	if _, err := conn.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := make([]byte, replySize)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(reply)
}

// eventually polls cond, since server counters move after the reply is written.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(ioTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTCPServerEcho(t *testing.T) {
	s := startServer(t, protocol.TCP)
	conn := dialRaw(t, "tcp", s.Addr())

	for i := 0; i < 10; i++ {
		if got := exchange(t, conn, protocol.ProbeText, protocol.EchoSize); got != protocol.EchoText {
			t.Fatalf("frame %d: got %q", i, got)
		}
	}
}

func TestTCPServerSplitFrame(t *testing.T) {
	s := startServer(t, protocol.TCP)
	conn := dialRaw(t, "tcp", s.Addr())

	for _, part := range []string{"pr", "ot", "o!"} {
		if _, err := conn.Write([]byte(part)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	reply := make([]byte, protocol.EchoSize)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if string(reply) != protocol.EchoText {
		t.Fatalf("got %q", reply)
	}
}

func TestTCPServerConnectionsAreIndependent(t *testing.T) {
	s := startServer(t, protocol.TCP)
	first := dialRaw(t, "tcp", s.Addr())
	second := dialRaw(t, "tcp", s.Addr())

	// half a frame on the first connection must not bleed into the second
	if _, err := first.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if got := exchange(t, second, "xyz123", protocol.EchoSize); got != "xyz123xyz123" {
			t.Fatalf("second connection frame %d: got %q", i, got)
		}
	}

	if got := exchange(t, first, "def", protocol.EchoSize); got != "abcdefabcdef" {
		t.Fatalf("first connection: got %q", got)
	}
}

func TestTCPServerDropsOnlyFailedConnection(t *testing.T) {
	s := startServer(t, protocol.TCP)
	readErrors := errorsTotal.WithLabelValues("tcp", "read")
	before := testutil.ToFloat64(readErrors)

	healthy := dialRaw(t, "tcp", s.Addr())
	if got := exchange(t, healthy, protocol.ProbeText, protocol.EchoSize); got != protocol.EchoText {
		t.Fatalf("got %q", got)
	}

	broken := dialRaw(t, "tcp", s.Addr())
	if _, err := broken.Write([]byte("pro")); err != nil {
		t.Fatal(err)
	}
	broken.Close()

	eventually(t, func() bool { return testutil.ToFloat64(readErrors) == before+1 })

	if got := exchange(t, healthy, protocol.ProbeText, protocol.EchoSize); got != protocol.EchoText {
		t.Fatalf("healthy connection after drop: got %q", got)
	}
	fresh := dialRaw(t, "tcp", s.Addr())
	if got := exchange(t, fresh, protocol.ProbeText, protocol.EchoSize); got != protocol.EchoText {
		t.Fatalf("new connection after drop: got %q", got)
	}
}

func TestTCPServerCleanCloseIsNotAnError(t *testing.T) {
	s := startServer(t, protocol.TCP)
	readErrors := errorsTotal.WithLabelValues("tcp", "read")
	before := testutil.ToFloat64(readErrors)

	conn := dialRaw(t, "tcp", s.Addr())
	exchange(t, conn, protocol.ProbeText, protocol.EchoSize)
	conn.Close()

	eventually(t, func() bool { return testutil.ToFloat64(activeConnections) == 0 })
	if got := testutil.ToFloat64(readErrors); got != before {
		t.Fatalf("read errors = %v, want %v", got, before)
	}
}

func TestUDPServerEcho(t *testing.T) {
	s := startServer(t, protocol.UDP)
	conn := dialRaw(t, "udp", s.Addr())

	for i := 0; i < 10; i++ {
		if _, err := conn.Write([]byte(protocol.ProbeText)); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, protocol.MaxDatagramSize)
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if got := string(buf[:n]); got != protocol.EchoText {
			t.Fatalf("datagram %d: got %q", i, got)
		}
	}
}

func TestUDPServerShortDatagram(t *testing.T) {
	s := startServer(t, protocol.UDP)
	conn := dialRaw(t, "udp", s.Addr())

	if _, err := conn.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "abcabc" {
		t.Fatalf("got %q", got)
	}
}

func TestUDPServerRepliesToMostRecentSender(t *testing.T) {
	s := startServer(t, protocol.UDP)
	a := dialRaw(t, "udp", s.Addr())
	b := dialRaw(t, "udp", s.Addr())

	if _, err := a.Write([]byte("AAAAAA")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("BBBBBB")); err != nil {
		t.Fatal(err)
	}

	read := func(conn net.Conn) string {
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(buf[:n])
	}

	got := map[string]string{"a": read(a), "b": read(b)}
	want := map[string]string{"a": "AAAAAAAAAAAA", "b": "BBBBBBBBBBBB"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestServerCountsExchanges(t *testing.T) {
	s := startServer(t, protocol.TCP)
	counter := exchangesTotal.WithLabelValues("tcp")
	before := testutil.ToFloat64(counter)

	conn := dialRaw(t, "tcp", s.Addr())
	for i := 0; i < 4; i++ {
		exchange(t, conn, protocol.ProbeText, protocol.EchoSize)
	}

	eventually(t, func() bool { return testutil.ToFloat64(counter) == before+4 })
}

func TestServerListenErrors(t *testing.T) {
	s := NewServer(ServerConfig{Address: "127.0.0.1", Logger: logging.NewNopLogger()})
	if err := s.Listen(context.Background()); !protocol.IsAddress(err) {
		t.Fatalf("listen on bad address = %v, want address error", err)
	}

	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("serve before listen should fail")
	}

	taken := startServer(t, protocol.TCP)
	dup := NewServer(ServerConfig{Address: taken.Addr().String(), Logger: logging.NewNopLogger()})
	if err := dup.Listen(context.Background()); !protocol.IsTransport(err) {
		t.Fatalf("listen on used port = %v, want transport error", err)
	}
}

func TestServerListenTwice(t *testing.T) {
	s := NewServer(ServerConfig{Transport: protocol.UDP, Address: "127.0.0.1:0", Logger: logging.NewNopLogger()})
	if err := s.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Listen(context.Background()); err == nil {
		t.Fatal("second listen should fail")
	}
}

func TestServerDefaults(t *testing.T) {
	c := ServerConfig{}.withDefaults()
	if c.Transport != protocol.TCP || c.Address != protocol.DefaultListenAddr || c.Logger == nil {
		t.Fatalf("unexpected defaults %+v", c)
	}
}

func TestUDPServerReceiveFailureIsFatal(t *testing.T) {
	s := NewServer(ServerConfig{Transport: protocol.UDP, Address: "127.0.0.1:0", Logger: logging.NewNopLogger()})
	if err := s.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	receiveErrors := errorsTotal.WithLabelValues("udp", "receive")
	before := testutil.ToFloat64(receiveErrors)

	// the socket dies underneath the loop, not through Close
	s.udpConn.Close()

	err := s.Serve(context.Background())
	if !protocol.IsTransport(err) {
		t.Fatalf("serve = %v, want transport error", err)
	}
	if got := testutil.ToFloat64(receiveErrors); got != before+1 {
		t.Fatalf("receive errors = %v, want %v", got, before+1)
	}
}

func TestUDPServerShutdownIsNotAnError(t *testing.T) {
	s := NewServer(ServerConfig{Transport: protocol.UDP, Address: "127.0.0.1:0", Logger: logging.NewNopLogger()})
	if err := s.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}

	receiveErrors := errorsTotal.WithLabelValues("udp", "receive")
	before := testutil.ToFloat64(receiveErrors)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	conn := dialRaw(t, "udp", s.Addr())
	if _, err := conn.Write([]byte(protocol.ProbeText)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, protocol.EchoSize)
	if _, err := conn.Read(buf); err != nil {
		t.Fatal(err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve returned %v after cancel", err)
		}
	case <-time.After(ioTimeout):
		t.Fatal("server did not stop")
	}

	if got := testutil.ToFloat64(receiveErrors); got != before {
		t.Fatalf("receive errors = %v, want %v", got, before)
	}
}

// failingListener refuses every Accept with err.
type failingListener struct {
	err error
}

func (l *failingListener) Accept() (net.Conn, error) { return nil, l.err }
func (l *failingListener) Close() error              { return nil }
func (l *failingListener) Addr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestTCPServerAcceptFailureIsFatal(t *testing.T) {
	errAccept := errors.New("too many open files")

	s := NewServer(ServerConfig{Logger: logging.NewNopLogger()})
	s.listener = &failingListener{err: errAccept}

	acceptErrors := errorsTotal.WithLabelValues("tcp", "accept")
	before := testutil.ToFloat64(acceptErrors)

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()

	select {
	case err := <-done:
		if !protocol.IsTransport(err) {
			t.Fatalf("serve = %v, want transport error", err)
		}
		if !errors.Is(err, errAccept) {
			t.Fatalf("serve = %v, want it to wrap %v", err, errAccept)
		}
	case <-time.After(ioTimeout):
		t.Fatal("serve kept running after accept failed")
	}

	if got := testutil.ToFloat64(acceptErrors); got != before+1 {
		t.Fatalf("accept errors = %v, want %v", got, before+1)
	}
}

// addrlessConn reports no remote address, as some wrapped conns do.
type addrlessConn struct {
	net.Conn
}

func (c addrlessConn) RemoteAddr() net.Addr { return nil }

func TestTCPServerHandlesConnWithoutRemoteAddr(t *testing.T) {
	s := NewServer(ServerConfig{Logger: logging.NewNopLogger()})
	server, client := net.Pipe()
	client.SetDeadline(time.Now().Add(ioTimeout))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleConn(context.Background(), addrlessConn{server})
	}()

	if got := exchange(t, client, protocol.ProbeText, protocol.EchoSize); got != protocol.EchoText {
		t.Fatalf("got %q", got)
	}
	client.Close()

	select {
	case <-done:
	case <-time.After(ioTimeout):
		t.Fatal("handler did not return after peer closed")
	}
}
