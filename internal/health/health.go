package health

import (
	"context"
	"fmt"
	"net"

	"github.com/DrC0ns0le/echo-perf/pkg/logging"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name the echo server reports under. The empty name
// reports the overall process status.
const Service = "echo"

// Server exposes the standard grpc.health.v1 service for the echo server.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger logging.Logger
}

func NewServer(logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.With("component", "health"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips both the echo service and the overall status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
	s.logger.Debugf("health status set to %s", status)
}

// Serve blocks on lis until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.logger.Infof("serving grpc health on %s", lis.Addr())
	if err := s.grpc.Serve(lis); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "grpc health server")
	}
	return nil
}

// ListenAndServe listens on tcp port and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	return s.Serve(ctx, lis)
}
