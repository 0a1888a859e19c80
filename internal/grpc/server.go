// Package grpc exposes the internal gRPC surface: the identity query service
// and the standard health service, driven by the store probe. Service-token
// auth guards everything except health.
package grpc

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name callers can probe in addition to "".
const ServiceName = "semaphore.auth.v1.AuthCore"

type Server struct {
	server *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer builds the gRPC server. An empty serviceToken leaves it open and
// a nil identity skips the query service. The server starts NOT_SERVING until
// SetServing(true).
func NewServer(identity IdentityQueryServer, serviceToken string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts []grpc.ServerOption
	if serviceToken != "" {
		unary, err := NewServiceAuthUnaryInterceptor(serviceToken)
		if err != nil {
			return nil, err
		}
		stream, err := NewServiceAuthStreamInterceptor(serviceToken)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.ChainUnaryInterceptor(unary), grpc.ChainStreamInterceptor(stream))
	}

	s := &Server{
		server: grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger,
	}
	if identity != nil {
		registerIdentityQueryServer(s.server, identity)
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.SetServing(false)
	return s, nil
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus(IdentityServiceName, status)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// GracefulStop flips health to NOT_SERVING for watchers, then drains.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
