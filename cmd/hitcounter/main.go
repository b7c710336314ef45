package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/toska-mesh/hitcounter/internal/cache"
	"github.com/toska-mesh/hitcounter/internal/config"
	"github.com/toska-mesh/hitcounter/internal/consul"
	"github.com/toska-mesh/hitcounter/internal/durable"
	"github.com/toska-mesh/hitcounter/internal/healthcheck"
	"github.com/toska-mesh/hitcounter/internal/logging"
	"github.com/toska-mesh/hitcounter/internal/messaging"
	"github.com/toska-mesh/hitcounter/internal/metrics"
	"github.com/toska-mesh/hitcounter/internal/server"
)

func main() {
	cfg, warnings := config.Load()

	logger, flush, err := logging.New(cfg.LogLevel, cfg.ServiceID)
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
		flush = func() {}
	}
	if err != nil {
		logger.Warn("logger setup", "error", err)
	}
	for _, w := range warnings {
		logger.Warn("configuration fallback", "detail", w)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		flush()
		os.Exit(1)
	}
	flush()
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := durable.OpenWithFallback(cfg.CounterBackend, cfg.DataFile, logger)
	defer store.Close()

	cacheClient := cache.New(ctx, cache.Options{
		Enabled:        cfg.RedisEnabled,
		Addr:           cfg.RedisAddr(),
		ConnectTimeout: cfg.RedisConnectTimeout,
	}, logger)
	defer cacheClient.Close()

	publisher, err := messaging.NewPublisher(cfg.RabbitMQURL, cfg.ServiceID, logger)
	if err != nil {
		logger.Error("rabbitmq unavailable, health events disabled", "error", err)
		publisher, _ = messaging.NewPublisher("", cfg.ServiceID, logger)
	}
	defer publisher.Close()

	deps := server.Deps{
		Store:     store,
		Cache:     cacheClient,
		Metrics:   metrics.New(),
		Publisher: publisher,
	}

	var resolver healthcheck.Resolver
	if cfg.ConsulAddress != "" {
		registry, err := consul.NewRegistry(cfg.ConsulAddress, logger)
		if err != nil {
			logger.Error("consul unavailable, registration disabled", "error", err)
		} else {
			resolver = registry
			deps.Reporter = registry
			register(ctx, registry, cfg, logger)
			defer deregister(registry, cfg.ServiceID, logger)
		}
	}

	deps.Prober = healthcheck.NewProber(healthcheck.Config{
		Timeout:          cfg.ProbeTimeout,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerDuration:  cfg.BreakerDuration,
	}, resolver, logger)

	targets := healthcheck.ParseTargets(cfg.DependencyTargets, cfg.APIServiceURL, logger)

	srv := server.New(server.Config{
		ServiceID:  cfg.ServiceID,
		CacheKey:   cfg.CacheKey,
		APIKeyFile: cfg.APIKeyFile,
		Targets:    targets,
		Version:    cfg.AppVersion,
		BuildDate:  cfg.BuildDate,
		GitCommit:  cfg.GitCommit,

		CheckTimeout: cfg.ProbeTimeout,
	}, deps, logger)
	defer srv.Wait()

	// Goroutines that use the store or cache; they finish before the
	// deferred Close calls run.
	var stopped sync.WaitGroup

	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer := server.NewGRPCServer(srv)

		stopped.Add(1)
		go func() {
			defer stopped.Done()
			<-ctx.Done()
			grpcServer.GracefulStop()
		}()
		go func() {
			logger.Info("grpc health server starting", "port", cfg.GRPCPort)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc server stopped", "error", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		stop()
		stopped.Wait()
		return fmt.Errorf("http listen: %w", err)
	}

	// Keep the Consul TTL check fed even when nothing polls /health.
	if deps.Reporter != nil {
		stopped.Add(1)
		go func() {
			defer stopped.Done()
			heartbeat(ctx, srv, 10*time.Second)
		}()
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("hitcounter starting",
		"port", cfg.Port,
		"backend", cfg.CounterBackend,
		"data_file", store.Location(),
		"cache", cacheClient.State().String(),
		"dependencies", len(targets),
	)
	err = serveHTTP(ctx, httpServer, lis, 10*time.Second, logger)

	stop()
	stopped.Wait()
	return err
}

// serveHTTP serves on lis until ctx is cancelled. It returns only after
// in-flight requests have drained or the drain timeout has passed.
func serveHTTP(ctx context.Context, hs *http.Server, lis net.Listener, drain time.Duration, logger *slog.Logger) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		logger.Info("shutting down hitcounter")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
	}()

	if err := hs.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	<-drained
	return nil
}

func heartbeat(ctx context.Context, srv *server.Server, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.Health(ctx)
		}
	}
}

func register(ctx context.Context, registry *consul.Registry, cfg config.Config, logger *slog.Logger) {
	host, _ := os.Hostname()

	regCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := registry.Register(regCtx, consul.Registration{
		ServiceName: "hitcounter",
		ServiceID:   cfg.ServiceID,
		Address:     host,
		Port:        cfg.Port,
		Metadata: map[string]string{
			"version":               cfg.AppVersion,
			"health_check_endpoint": "/health",
		},
		TTL: 30 * time.Second,
	})
	if err != nil {
		logger.Error("consul registration failed", "error", err)
	}
}

func deregister(registry *consul.Registry, serviceID string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := registry.Deregister(ctx, serviceID); err != nil {
		logger.Warn("consul deregistration failed", "error", err)
	}
}
