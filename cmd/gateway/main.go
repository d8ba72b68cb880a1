package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inshop.app/internal/config"
	"inshop.app/internal/gateway"
	"inshop.app/internal/obs"
)

var version = "1.0.0"

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadGateway()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := obs.InitLogger(obs.LogConfig{Level: cfg.Log.Level, Dev: cfg.Log.Dev})
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func loadTable(cfg config.Gateway) (*gateway.Table, error) {
	if cfg.RoutesFile != "" {
		return gateway.LoadRoutes(cfg.RoutesFile)
	}
	return gateway.DefaultTable(cfg.AuthName, cfg.AuthURL)
}

func run(cfg config.Gateway, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo("api-gateway", version)

	table, err := loadTable(cfg)
	if err != nil {
		return err
	}
	limiter, err := cfg.RateLimit.Limiter(table.Policies())
	if err != nil {
		return err
	}
	gw := gateway.New(table, version,
		gateway.WithPrefix(cfg.Prefix),
		gateway.WithLimiter(limiter),
		gateway.WithTrustedProxies(cfg.Proxies()),
		gateway.WithCORSOrigins(cfg.CORSOrigins),
		gateway.WithForwarder(gateway.NewForwarder(cfg.BackendTimeout)),
		gateway.WithAggregator(gateway.NewAggregator(table.Services, cfg.HealthTimeout, nil)),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.BackendTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fields := []zap.Field{zap.String("version", version), zap.String("addr", srv.Addr), zap.String("prefix", cfg.Prefix)}
		for _, rt := range table.Routes {
			fields = append(fields, zap.String("route"+rt.Prefix, rt.Service+rt.Target))
		}
		logger.Info("starting api-gateway", fields...)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
