package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entitled/internal/middleware"
)

// RouterConfig carries the collaborators the router wires together.
type RouterConfig struct {
	Service    LicenseService
	LicenseKey string
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Gate       *middleware.EntitlementGate
}

// NewRouter assembles the local HTTP surface: license endpoints, health,
// version and Prometheus metrics, behind the standard middleware chain. The
// entitlement gate, when present, wraps everything; its own exclusion list
// keeps the license and diagnostics endpoints reachable in any state.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Compress(5))
	if cfg.Gate != nil {
		r.Use(cfg.Gate.Handler)
	}

	licenseHandler := NewLicenseHandler(cfg.Service, cfg.LicenseKey, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.Service, cfg.Logger)

	r.Route("/api", func(api chi.Router) {
		api.Mount("/license", licenseHandler.Routes())
		api.Get("/health", healthHandler.GetHealth)
		api.Get("/version", healthHandler.GetVersion)
	})

	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
