// Package app assembles the licensing service: configuration, logging,
// telemetry, storage, the entitlement engine, and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tracecut/internal/config"
	"tracecut/internal/entitlement"
	"tracecut/internal/infrastructure"
	"tracecut/internal/keygen"
	"tracecut/internal/ratelimit"
	"tracecut/internal/store"
	"tracecut/internal/token"
	transport "tracecut/internal/transport/http"
)

// Version is set at build time via ldflags
var Version = "dev"

// Application is the assembled service container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Store         store.Store
	Engine        *entitlement.Engine
	Server        *http.Server
	OTelProviders *infrastructure.OTelProviders
}

// NewApplication wires every component from configuration
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	st := store.NewRedisStore(cfg.Redis)

	signer, err := token.NewSigner(cfg.Signing.Secret, cfg.Signing.Issuer, cfg.Signing.MaxValid)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token signer: %w", err)
	}

	// NewClient returns nil when the provider is not configured; the engine
	// then falls back to the static key allowlist.
	client := keygen.NewClient(cfg.Keygen, logger)
	var provider entitlement.Provider
	if client != nil {
		provider = client
	}

	policy := entitlement.PolicyFromConfig(cfg.Licensing, client != nil)
	engine := entitlement.NewEngine(st, provider, policy, signer,
		cfg.Licensing.AllowedKeys, cfg.Licensing.DeviceLimit, logger)

	router := transport.NewRouter(transport.RouterConfig{
		Engine:   engine,
		Store:    st,
		Limiter:  ratelimit.New(st, cfg.RateLimit),
		Registry: providers.Registry,
		Config:   cfg,
		Version:  Version,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return &Application{
		Config:        cfg,
		Logger:        logger,
		Store:         st,
		Engine:        engine,
		Server:        server,
		OTelProviders: providers,
	}, nil
}

// Run starts the HTTP server and blocks until shutdown completes
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Store.Ping(ctx); err != nil {
		a.Logger.Warn("store unreachable at startup, continuing",
			slog.String("error", err.Error()))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("server starting",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		infrastructure.CloseLogFile()
		return nil
	})

	err := g.Wait()
	a.Logger.Info("server stopped", slog.Duration("uptime", uptime()))
	return err
}

var started = time.Now()

func uptime() time.Duration { return time.Since(started) }
