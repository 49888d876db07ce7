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

	"entitled/internal/config"
	"entitled/internal/infrastructure"
	"entitled/internal/license"
	"entitled/internal/middleware"
	transport "entitled/internal/transport/http"
	"entitled/pkg/contracts"
)

// Application is the composed entitlement service.
type Application struct {
	Config        *config.Config
	Manager       *license.Manager
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Server        *http.Server
}

// NewApplication wires the service from configuration. Construction never
// touches the network; the first authority call happens on demand.
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("version", contracts.Version),
		slog.Int("port", cfg.Server.Port))

	otelProviders, err := infrastructure.InitializeOTel(contracts.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	manager, err := NewManager(cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := license.InitializeEngineMetrics(infrastructure.Meter(license.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine metrics: %w", err)
	}
	manager.SetMetrics(metrics)

	gate := middleware.NewEntitlementGate(manager, cfg.License.Key, logger)
	gateMetrics, err := middleware.InitializeGateMetrics(infrastructure.Meter(license.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gate metrics: %w", err)
	}
	gate.SetMetrics(gateMetrics)

	router := transport.NewRouter(transport.RouterConfig{
		Service:    manager,
		LicenseKey: cfg.License.Key,
		Logger:     logger,
		Registry:   otelProviders.Registry,
		Gate:       gate,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Config:        cfg,
		Manager:       manager,
		Logger:        logger,
		OTelProviders: otelProviders,
		Server:        server,
	}, nil
}

// NewManager builds the license manager from configuration. Exposed
// separately so the CLI subcommands can run the engine without the HTTP
// surface.
func NewManager(cfg *config.Config, logger *slog.Logger) (*license.Manager, error) {
	publicKeyPEM := license.DefaultPublicKeyPEM
	if cfg.License.PublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.License.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key %s: %w", cfg.License.PublicKeyPath, err)
		}
		publicKeyPEM = string(pem)
	}

	var authority license.AuthorityClient
	if cfg.License.APIEndpoint != "" {
		authority = license.NewHTTPAuthorityClient(
			cfg.License.APIEndpoint,
			cfg.License.APIKey,
			cfg.License.NetworkTimeout,
		)
	} else if logger != nil {
		logger.Warn("no authority endpoint configured, running offline-only")
	}

	manager, err := license.NewManager(license.ManagerConfig{
		PublicKeyPEM:         publicKeyPEM,
		LicenseDir:           cfg.Paths.LicenseDir,
		CacheTTL:             cfg.License.CacheTTL,
		CacheMaxSize:         cfg.License.CacheMaxSize,
		CacheSecret:          cfg.License.CacheSecret,
		RevalidationInterval: cfg.License.RevalidationInterval,
		OfflineExpiryLeeway:  cfg.License.OfflineExpiryLeeway,
		RateLimitEnabled:     cfg.RateLimit.Enabled,
		RateLimitRPS:         cfg.RateLimit.RPS,
		RateLimitBurst:       cfg.RateLimit.Burst,
	}, authority)
	if err != nil {
		return nil, fmt.Errorf("failed to build license manager: %w", err)
	}
	return manager, nil
}

// Run starts the HTTP server and blocks until a termination signal or a
// server error, then shuts down gracefully.
func (a *Application) Run() error {
	errCh := make(chan error, 1)

	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-stop:
		a.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	return a.Shutdown()
}

// Shutdown stops the server and flushes telemetry within the configured
// shutdown timeout.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error("http server shutdown failed", slog.String("error", err.Error()))
		return err
	}

	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}

	a.Logger.Info("application stopped",
		slog.Int("cache_gc_removed", a.Manager.GC()),
		slog.Duration("timeout", a.Config.Server.ShutdownTimeout))
	return nil
}

// WaitForReady polls the local health endpoint until the server answers or
// the timeout elapses. Used by tests and by supervisors that need a ready
// signal.
func (a *Application) WaitForReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/api/health", a.Config.Server.Port)

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < http.StatusInternalServerError {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server not ready within %s", timeout)
}
