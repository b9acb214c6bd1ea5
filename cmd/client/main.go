package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/DrC0ns0le/echo-perf/internal/export"
	"github.com/DrC0ns0le/echo-perf/internal/measure/echo"
	"github.com/DrC0ns0le/echo-perf/internal/measure/latency"
	"github.com/DrC0ns0le/echo-perf/internal/protocol"
	"github.com/DrC0ns0le/echo-perf/pkg/logging"
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
)

var (
	skipViolations = flag.Bool("skip-violations", false, "record mismatching replies and keep going instead of aborting")
	localAddr      = flag.String("local", "", "local address for the udp client, ephemeral when empty")

	baselineMode       = flag.String("baseline", "", "reference measurement before the run: icmp or connect")
	baselineCount      = flag.Int("baseline.count", 10, "number of baseline probes")
	baselinePrivileged = flag.Bool("baseline.privileged", false, "use raw sockets for the icmp baseline")

	elasticHost     = flag.String("elastic.host", "", "host for elastic server, empty disables export")
	elasticPort     = flag.Int("elastic.port", 9200, "port for elastic server")
	elasticUser     = flag.String("elastic.user", "elastic", "user for elastic server")
	elasticPass     = flag.String("elastic.pass", "", "pass for elastic server")
	elasticIndex    = flag.String("elastic.index", "echo-latency", "index for exported runs")
	elasticInsecure = flag.Bool("elastic.insecure", false, "skip tls verification for elastic server")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <remote_address> <iteration_count> [udp|tcp]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.NewDefaultLogger()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	remote := flag.Arg(0)
	transport := protocol.ParseTransport(flag.Arg(2))

	iterations, err := parseIterations(flag.Arg(1))
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if _, err := protocol.ResolveAddr(transport, remote); err != nil {
		logger.Fatalf("%v", err)
	}

	ctx := context.Background()

	var baseline *latency.Baseline
	if *baselineMode != "" {
		b, err := measureBaseline(ctx, *baselineMode, remote, *baselineCount)
		if err != nil {
			logger.Warnf("baseline measurement failed: %v", err)
		} else {
			baseline = &b
			fmt.Println(b)
		}
	}

	client, err := echo.Dial(ctx, echo.ClientConfig{
		Transport:  transport,
		RemoteAddr: remote,
		LocalAddr:  *localAddr,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("failed to connect to %s: %v", remote, err)
	}
	logger.Infof("probing %s over %s from %s, %d iterations", client.RemoteAddr(), client.Transport(), client.LocalAddr(), iterations)

	policy := echo.AbortOnViolation
	if *skipViolations {
		policy = echo.SkipViolations
	}

	started := time.Now()
	result, err := echo.Run(client, iterations, policy)
	client.Close()
	if err != nil {
		logger.Fatalf("%s run against %s failed after %d samples: %v", transport, remote, len(result.Samples), err)
	}

	for _, v := range result.Violations {
		logger.Errorf("iteration %d: %v", v.Iteration+1, v.Err)
	}

	report, err := latency.NewReport(result.Samples)
	if err != nil {
		logger.Fatalf("no successful exchanges out of %d: %v", iterations, err)
	}
	fmt.Print(report)

	if *elasticHost != "" {
		run := export.RunRecord{
			Timestamp:  started,
			RunID:      runID(remote, started),
			Transport:  transport.String(),
			Remote:     remote,
			Iterations: iterations,
			Violations: len(result.Violations),
			Report:     report,
			Baseline:   baseline,
		}
		if err := exportRun(ctx, run, result.Samples, logger); err != nil {
			logger.Fatalf("failed to export run: %v", err)
		}
	}
}

// parseIterations accepts only positive decimal integers.
func parseIterations(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid iteration count %q", s)
	}
	if n <= 0 {
		return 0, errors.Errorf("iteration count must be positive, got %d", n)
	}
	return n, nil
}

func measureBaseline(ctx context.Context, mode, remote string, count int) (latency.Baseline, error) {
	switch mode {
	case "icmp":
		host, _, err := net.SplitHostPort(remote)
		if err != nil {
			return latency.Baseline{}, err
		}
		return latency.MeasureICMP(ctx, host, count, *baselinePrivileged)
	case "connect":
		return latency.MeasureConnect(ctx, remote, count)
	default:
		return latency.Baseline{}, errors.Errorf("unknown baseline %q, want icmp or connect", mode)
	}
}

func runID(remote string, started time.Time) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(fmt.Sprintf("%s|%d", remote, started.UnixNano())))
}

func exportRun(ctx context.Context, run export.RunRecord, samples []time.Duration, logger logging.Logger) error {
	exporter, err := export.NewElasticExporter(export.ElasticConfig{
		Addresses: []string{fmt.Sprintf("https://%s", net.JoinHostPort(*elasticHost, strconv.Itoa(*elasticPort)))},
		Username:  *elasticUser,
		Password:  *elasticPass,
		Index:     *elasticIndex,
		Insecure:  *elasticInsecure,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return exporter.Export(ctx, run, samples)
}
