package echo

import (
	"fmt"
	"net"

	"github.com/cespare/xxhash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_exchanges_total",
		Help: "number of completed echo exchanges",
	}, []string{"transport"})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_errors_total",
		Help: "number of failed echo server operations",
	}, []string{"transport", "op"})
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "echo_active_connections",
		Help: "number of open connections on the tcp echo server",
	})
	processDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "echo_process_duration_microseconds",
		Help:    "Distribution of time between receiving a frame and writing its echo, in microseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000}, // buckets in microseconds
	}, []string{"transport"})
)

// connID is a short stable tag for a peer, used to correlate log lines.
func connID(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(addr.String()))
}
