// Package grpcserver exposes the standard gRPC health service, reporting the
// storage dependency's reachability.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-sync-service/internal/observability"
)

// ServiceName is the health entry for the sync engine itself.
const ServiceName = "chat.sync.v1.SyncService"

// Pinger is a dependency probed for readiness.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	db       Pinger
	interval time.Duration
	logger   *zap.Logger
}

func New(db Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{grpc: gs, health: hs, db: db, interval: 10 * time.Second, logger: logger}
}

// Probe checks the database once and publishes the result.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.db != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(pctx); err != nil {
			s.logger.Warn("database ping failed", zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve probes periodically and serves on lis until ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Probe(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Probe(ctx)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}
