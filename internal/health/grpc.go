package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the gRPC health service name reported alongside the overall status.
const ServiceName = "studio.Tutor"

// GRPCServer serves grpc.health.v1.Health and keeps it in step with the store.
type GRPCServer struct {
	store    Pinger
	interval time.Duration
	logger   *slog.Logger
	srv      *grpc.Server
	health   *grpchealth.Server
}

// NewGRPCServer creates a health server that pings store every interval.
func NewGRPCServer(store Pinger, interval time.Duration, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	srv := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		MaxConnectionIdle: 5 * time.Minute,
		Time:              2 * time.Minute,
		Timeout:           10 * time.Second,
	}))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{store: store, interval: interval, logger: logger, srv: srv, health: hs}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *GRPCServer) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.check(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.check(ctx)
			case <-ctx.Done():
				s.health.Shutdown()
				s.srv.GracefulStop()
				return
			}
		}
	}()

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.srv.Serve(lis); err != nil {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

// check pings the store and publishes the result.
func (s *GRPCServer) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(pingCtx); err != nil {
		s.logger.Warn("Store unreachable, reporting NOT_SERVING", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
