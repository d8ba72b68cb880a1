package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"inshop.app/internal/auth"
	"inshop.app/internal/config"
	"inshop.app/internal/httpapi"
	"inshop.app/internal/obs"
)

var version = "1.0.0"

func main() {
	config.LoadDotEnv()
	cfg, err := config.LoadAuth()
	if err != nil {
		// The logger is not configured yet.
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
		logger.Fatal("authd stopped", zap.Error(err))
	}
}

func run(cfg config.Auth, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo("auth-service", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.PGDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
	} else {
		logger.Warn("AUTH_PG_DSN is empty; using the in-memory store")
		store = auth.NewMemoryStore()
	}

	issuer, err := auth.NewIssuer(
		auth.WithAccessSecret(cfg.AccessSecret),
		auth.WithRefreshSecret(cfg.RefreshSecret),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return err
	}
	sessions := auth.NewSessionManager(store, issuer, auth.WithBcryptCost(cfg.BcryptCost))
	resolver := auth.NewResolver(store)

	if cfg.AdminEmail != "" {
		created, err := auth.EnsureSuperAdmin(ctx, store.Users(ctx), auth.AdminSeed{
			Email: cfg.AdminEmail, Password: cfg.AdminPassword, Cost: cfg.BcryptCost,
		})
		if err != nil {
			return err
		}
		if created {
			logger.Info("super admin created", zap.String("email", cfg.AdminEmail))
		}
	}

	limiter, err := cfg.RateLimit.Limiter(nil)
	if err != nil {
		return err
	}
	ready := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(sessions, resolver, version,
		httpapi.WithLimiter(limiter),
		httpapi.WithTrustedProxies(cfg.Proxies()),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithReadiness(ready),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(ready)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go health.Run(ctx, cfg.ReadyInterval)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("starting auth-service", zap.String("version", version), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
