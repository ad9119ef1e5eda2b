package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/eleven-am/voice-client/internal/voicesession"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	grpcServiceName    = "voice-client"
	healthPollInterval = time.Second
)

func NewGRPCServer() *grpc.Server {
	return grpc.NewServer()
}

func ProvideHealthServer() *health.Server {
	return health.NewServer()
}

func RegisterHealthService(server *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(server, hs)
}

func servingStatus(healthy bool) healthpb.HealthCheckResponse_ServingStatus {
	if healthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// watchSessionHealth mirrors the live session's transport state into the
// gRPC health service until ctx is done.
func watchSessionHealth(ctx context.Context, hs *health.Server, mgr *voicesession.Manager) {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := servingStatus(mgr.Healthy())
		if status != last {
			hs.SetServingStatus(grpcServiceName, status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func StartGRPCServer(lc fx.Lifecycle, server *grpc.Server, hs *health.Server, mgr *voicesession.Manager, cfg *Config, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				cancel()
				return err
			}
			go watchSessionHealth(ctx, hs, mgr)
			go func() {
				logger.Info("gRPC server starting", "addr", cfg.GRPCAddr)
				if err := server.Serve(lis); err != nil {
					logger.Error("gRPC server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			hs.Shutdown()
			server.GracefulStop()
			return nil
		},
	})
}

var GRPCModule = fx.Options(
	fx.Provide(NewGRPCServer, ProvideHealthServer),
	fx.Invoke(RegisterHealthService),
	fx.Invoke(StartGRPCServer),
)
