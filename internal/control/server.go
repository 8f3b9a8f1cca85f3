package control

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server serves a Syncer over gRPC with the standard health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer registers the control and health services for s.
func NewServer(s Syncer) *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryInterceptor(),
			loggingInterceptor(),
		),
		grpc.ConnectionTimeout(10*time.Second),
		grpc.MaxRecvMsgSize(1<<20),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	srv.RegisterService(&serviceDesc, s)

	return &Server{grpc: srv, health: healthServer}
}

// Listen binds addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (s *Server) Listen(addr string) (string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		if err := s.grpc.Serve(lis); err != nil {
			slog.Error("control server stopped", "error", err)
		}
	}()

	slog.Info("control server listening", "address", lis.Addr().String())

	return lis.Addr().String(), nil
}

// Stop marks the server not serving and waits up to timeout for in-flight
// calls before closing connections.
func (s *Server) Stop(timeout time.Duration) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})

	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("control server graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}
}
