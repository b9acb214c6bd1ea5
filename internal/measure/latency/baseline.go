package latency

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Baseline is a reference latency taken outside the echo protocol,
// so echo results can be compared against the raw network path.
type Baseline struct {
	Protocol   string  `json:"protocol"`
	Status     int     `json:"status"`
	AvgLatency int64   `json:"avg_us"`
	Jitter     int64   `json:"jitter_us"`
	Loss       float64 `json:"loss"`
}

func (b Baseline) String() string {
	if b.Status == 0 {
		return fmt.Sprintf("%s baseline unavailable", b.Protocol)
	}
	return fmt.Sprintf("%s baseline: avg=%dus jitter=%dus loss=%.1f%%", b.Protocol, b.AvgLatency, b.Jitter, b.Loss)
}

// MeasureICMP pings host count times. Raw sockets need CAP_NET_RAW when privileged is set.
func MeasureICMP(ctx context.Context, host string, count int, privileged bool) (Baseline, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return Baseline{Status: 0, Protocol: "icmp"}, err
	}
	pinger.SetPrivileged(privileged)
	pinger.Interval = 250 * time.Millisecond
	pinger.Timeout = time.Duration(count)*pinger.Interval + 2*time.Second
	pinger.Count = count

	err = pinger.RunWithContext(ctx)
	if err != nil {
		return Baseline{Status: 0, Protocol: "icmp"}, err
	}

	stats := pinger.Statistics()
	if stats.PacketLoss == 100 {
		return Baseline{Status: 0, Protocol: "icmp", Loss: stats.PacketLoss}, fmt.Errorf("no icmp replies from %s", host)
	}

	return Baseline{
		Status:     1,
		Protocol:   "icmp",
		AvgLatency: stats.AvgRtt.Microseconds(),
		Jitter:     stats.StdDevRtt.Microseconds(),
		Loss:       stats.PacketLoss,
	}, nil
}

// MeasureConnect times count TCP handshakes to addr.
func MeasureConnect(ctx context.Context, addr string, count int) (Baseline, error) {
	latencies := make([]int64, 0, count)

	for i := 0; i < count; i++ {
		dialer := &net.Dialer{Timeout: 2 * time.Second}

		startTime := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		latencies = append(latencies, time.Since(startTime).Microseconds())
		conn.Close()
	}

	if len(latencies) == 0 {
		return Baseline{Status: 0, Protocol: "connect", Loss: 100}, fmt.Errorf("all connection attempts to %s failed", addr)
	}

	var total int64
	for _, l := range latencies {
		total += l
	}
	avg := total / int64(len(latencies))

	// mean absolute deviation
	var deviation int64
	for _, l := range latencies {
		d := l - avg
		if d < 0 {
			d = -d
		}
		deviation += d
	}

	return Baseline{
		Status:     1,
		Protocol:   "connect",
		AvgLatency: avg,
		Jitter:     deviation / int64(len(latencies)),
		Loss:       float64(count-len(latencies)) / float64(count) * 100,
	}, nil
}
