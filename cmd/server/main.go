package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"schoolhub/internal/config"
	"schoolhub/internal/db"
	guardgrpc "schoolhub/internal/grpc"
	internalhttp "schoolhub/internal/http"
	"schoolhub/internal/jobs"
	"schoolhub/internal/logs"
	"schoolhub/internal/repository"
	"schoolhub/internal/tenant"
)

func main() {
	cfg := config.Load()
	logger := logs.Init(logs.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("db connection failed")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.WithError(err).Fatal("db migration failed")
		}
		logger.Info("db schema applied")
	}

	store := repository.NewStore(pool)
	guard := tenant.NewGuard(pool, logger.WithField("component", "tenant_guard"))

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.WithError(err).Fatal("redis ping failed")
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.WithError(err).Warn("redis close error")
			}
		}()
	} else {
		logger.Warn("REDIS_ADDR not set: login throttling and access token revocation disabled")
	}

	server := internalhttp.NewServer(cfg, store, guard, redisClient, logger.WithField("component", "http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, err := newGRPCServer(cfg, guard)
	if err != nil {
		logger.WithError(err).Fatal("grpc init failed")
	}
	jobs.StartSessionPurgeJob(ctx, cfg, store, logger.WithField("component", "session_purge"))

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server error")
		}
	}()

	if grpcServer != nil {
		go func() {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				logger.WithError(err).Fatal("grpc listen error")
			}
			logger.WithField("addr", cfg.GRPCAddr).Info("grpc listening")
			if err := grpcServer.Serve(listener); err != nil {
				logger.WithError(err).Fatal("grpc server error")
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
}

// newGRPCServer returns nil when no service token is configured; the guard is then only
// reachable in-process.
func newGRPCServer(cfg config.Config, guard *tenant.Guard) (*grpc.Server, error) {
	if cfg.ServiceAuthToken == "" {
		logs.Logger.WithFields(logrus.Fields{"addr": cfg.GRPCAddr}).Warn("SERVICE_AUTH_TOKEN not set: grpc guard service disabled")
		return nil, nil
	}
	interceptor, err := guardgrpc.NewServiceAuthUnaryInterceptor(cfg.ServiceAuthToken)
	if err != nil {
		return nil, err
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	guardgrpc.RegisterTenantGuardServer(grpcServer, guardgrpc.NewGuardServer(guard))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("schoolhub.tenant.v1.TenantGuard", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return grpcServer, nil
}
