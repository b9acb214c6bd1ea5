package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/DrC0ns0le/echo-perf/internal/health"
	"github.com/DrC0ns0le/echo-perf/internal/measure/echo"
	"github.com/DrC0ns0le/echo-perf/internal/metrics"
	"github.com/DrC0ns0le/echo-perf/internal/protocol"
	"github.com/DrC0ns0le/echo-perf/pkg/logging"
)

var (
	metricsPort = flag.Int("metrics.port", 0, "port for metrics server, 0 disables it")
	metricsPath = flag.String("metrics.path", "/metrics", "path for metrics server")

	healthPort = flag.Int("health.port", 0, "port for grpc health server, 0 disables it")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [listen_address] [udp|tcp]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := logging.NewDefaultLogger()

	listenAddr := protocol.DefaultListenAddr
	if flag.NArg() > 0 {
		listenAddr = flag.Arg(0)
	}
	transport := protocol.ParseTransport(flag.Arg(1))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthServer := health.NewServer(logger)
	if *healthPort > 0 {
		go func() {
			if err := healthServer.ListenAndServe(ctx, *healthPort); err != nil {
				logger.Errorf("health server stopped: %v", err)
			}
		}()
	}

	if *metricsPort > 0 {
		go func() {
			err := metrics.Serve(ctx, metrics.Config{
				Port:   *metricsPort,
				Path:   *metricsPath,
				Logger: logger,
			})
			if err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	server := echo.NewServer(echo.ServerConfig{
		Transport: transport,
		Address:   listenAddr,
		Logger:    logger,
	})

	if err := server.Listen(ctx); err != nil {
		logger.Fatalf("failed to start %s echo server: %v", transport, err)
	}
	healthServer.SetServing(true)

	err := server.Serve(ctx)
	healthServer.SetServing(false)
	if err != nil {
		logger.Fatalf("%s echo server stopped: %v", transport, err)
	}
	logger.Infof("echo server stopped")
}
