package echo

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/DrC0ns0le/echo-perf/internal/protocol"
	"github.com/DrC0ns0le/echo-perf/pkg/logging"
	"github.com/pkg/errors"
)

type ClientConfig struct {
	// Transport selects the UDP or TCP variant
	Transport protocol.Transport
	// RemoteAddr is the echo server address
	RemoteAddr string
	// LocalAddr optionally pins the UDP source address, ephemeral when empty
	LocalAddr string

	Logger logging.Logger
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Transport == "" {
		c.Transport = protocol.TCP
	}
	if c.Logger == nil {
		c.Logger = logging.NewDefaultLogger()
	}
	return c
}

// Prober performs one timed exchange.
type Prober interface {
	Probe() (time.Duration, error)
}

// Client holds one connection to an echo server for the whole run.
// There is no reconnection; a transport error leaves the Client unusable.
type Client struct {
	conn      net.Conn
	transport protocol.Transport
	logger    logging.Logger

	probe []byte
	buf   []byte
	// readReply blocks until one complete reply is in buf
	readReply func(buf []byte) (int, error)
}

// Dial connects to the configured server. Address problems are address
// errors; connection failures are transport errors.
func Dial(ctx context.Context, config ClientConfig) (*Client, error) {
	config = config.withDefaults()
	logger := config.Logger.With("component", "client", "transport", config.Transport.String())

	var (
		c   *Client
		err error
	)
	switch config.Transport {
	case protocol.UDP:
		c, err = dialUDP(ctx, config)
	default:
		c, err = dialTCP(ctx, config)
	}
	if err != nil {
		return nil, err
	}

	c.transport = config.Transport
	c.logger = logger
	c.probe = protocol.Probe()

	logger.Debugf("connected to server %s from %s", c.conn.RemoteAddr(), c.conn.LocalAddr())
	return c, nil
}

// Probe sends the request frame and waits for the reply. The elapsed time
// is returned only if the reply matches the expected echo; a mismatch is a
// *protocol.ViolationError and leaves the connection usable.
func (c *Client) Probe() (time.Duration, error) {
	start := time.Now()

	if _, err := c.conn.Write(c.probe); err != nil {
		return 0, protocol.NewTransportError("send", err)
	}

	n, err := c.readReply(c.buf)
	if err != nil {
		return 0, protocol.NewTransportError("receive", err)
	}
	rtt := time.Since(start)

	if err := protocol.Verify(c.buf[:n]); err != nil {
		return 0, err
	}
	return rtt, nil
}

func (c *Client) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Client) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Client) Transport() protocol.Transport { return c.transport }

func (c *Client) Close() error {
	return c.conn.Close()
}

// Policy decides what a run does after a protocol violation.
// Transport errors always end the run.
type Policy int

const (
	// AbortOnViolation stops at the first mismatching reply.
	AbortOnViolation Policy = iota
	// SkipViolations records the mismatch and moves on to the next iteration.
	SkipViolations
)

func (p Policy) String() string {
	switch p {
	case AbortOnViolation:
		return "abort"
	case SkipViolations:
		return "skip"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Violation is a skipped iteration.
type Violation struct {
	Iteration int
	Err       *protocol.ViolationError
}

// RunResult holds the samples in completion order.
type RunResult struct {
	Samples    []time.Duration
	Violations []Violation
}

// Run performs iterations sequential exchanges. On error the samples
// collected so far are returned along with it.
func Run(p Prober, iterations int, policy Policy) (RunResult, error) {
	if iterations <= 0 {
		return RunResult{}, errors.Errorf("iteration count must be positive, got %d", iterations)
	}

	result := RunResult{Samples: make([]time.Duration, 0, iterations)}

	for i := 0; i < iterations; i++ {
		rtt, err := p.Probe()
		if err != nil {
			var v *protocol.ViolationError
			if policy == SkipViolations && errors.As(err, &v) {
				result.Violations = append(result.Violations, Violation{Iteration: i, Err: v})
				continue
			}
			return result, errors.Wrapf(err, "iteration %d/%d", i+1, iterations)
		}
		result.Samples = append(result.Samples, rtt)
	}

	return result, nil
}
