// Command tokengate serves the token endpoints behind the request gate.
//
// Configuration comes from an optional file (-config), TOKENGATE_* variables
// and a .env file in the working directory. Logins are accepted from an
// upstream identity provider through trusted headers; see
// [httpapi.TrustedHeaderAuthenticator].
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/httpapi"
	"github.com/MrEthical07/tokengate/logging"
	promexport "github.com/MrEthical07/tokengate/metrics/export/prometheus"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tokengate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("TOKENGATE_CONFIG"), "path to a YAML, JSON or TOML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := tokengate.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, _, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}()

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// Requests fail closed until Redis is reachable.
		logger.Warn("redis not reachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	cancel()

	builder := tokengate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(logger)
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(tokengate.NewZapSink(logger))
	}
	svc, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := promexport.NewExporter(svc).Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.Log.EnableMetric {
		if err := logging.RegisterMetrics(reg); err != nil {
			return fmt.Errorf("register log metrics: %w", err)
		}
	}

	router, err := httpapi.NewRouter(httpapi.Options{
		Service: svc,
		Authenticator: httpapi.TrustedHeaderAuthenticator{
			Secret:      os.Getenv("TOKENGATE_PROXY_SECRET"),
			DefaultRole: tokengate.RoleUser,
		},
		Logger: logger,
		Mount: func(r chi.Router) {
			r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		},
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("audit drain incomplete", zap.Error(err), zap.Uint64("dropped", svc.AuditDropped()))
	}
	return nil
}
