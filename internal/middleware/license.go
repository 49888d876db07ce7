package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"entitled/internal/errors"
	"entitled/internal/license"
)

// EntitlementResolver is the facade surface the gate consumes. The concrete
// implementation is license.Manager; tests substitute a stub.
type EntitlementResolver interface {
	GetLicenseState(ctx context.Context, licenseKey string) *license.LicenseState
	RequireCapability(ctx context.Context, licenseKey, capability string) error
}

// EntitlementGate is chi middleware that denies requests when the resolved
// license state does not permit operation, or when a route-specific
// capability is missing. State resolution and caching live in the manager;
// the gate only consults the facade and renders denials.
type EntitlementGate struct {
	resolver        EntitlementResolver
	logger          *slog.Logger
	licenseKey      string
	enabled         bool
	excludePaths    []string
	excludePrefixes []string
	metrics         *GateMetrics
}

// GateMetrics holds OpenTelemetry metrics for the entitlement gate
type GateMetrics struct {
	RequestsTotal  metric.Int64Counter
	Denials        metric.Int64Counter
	PathExclusions metric.Int64Counter
}

// InitializeGateMetrics creates the gate's instruments on the given meter.
func InitializeGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	m := &GateMetrics{}
	var err error

	if m.RequestsTotal, err = meter.Int64Counter("gate.requests.total",
		metric.WithDescription("Requests evaluated by the entitlement gate")); err != nil {
		return nil, fmt.Errorf("create gate.requests.total: %w", err)
	}
	if m.Denials, err = meter.Int64Counter("gate.denials.total",
		metric.WithDescription("Requests denied by the entitlement gate")); err != nil {
		return nil, fmt.Errorf("create gate.denials.total: %w", err)
	}
	if m.PathExclusions, err = meter.Int64Counter("gate.path_exclusions.total",
		metric.WithDescription("Requests skipped because the path is excluded")); err != nil {
		return nil, fmt.Errorf("create gate.path_exclusions.total: %w", err)
	}

	return m, nil
}

// NewEntitlementGate creates the gate for the configured license key.
func NewEntitlementGate(resolver EntitlementResolver, licenseKey string, logger *slog.Logger) *EntitlementGate {
	return &EntitlementGate{
		resolver:   resolver,
		logger:     logger.With(slog.String("component", "entitlement_gate")),
		licenseKey: licenseKey,
		enabled:    true,
		excludePaths: []string{
			"/",
			"/api/license/status",
			"/api/license/validate",
			"/api/license/activate",
			"/api/health",
			"/metrics",
			"/favicon.ico",
		},
		excludePrefixes: []string{
			"/static/",
		},
	}
}

// SetEnabled enables or disables gating. Disabled means pass-through.
func (g *EntitlementGate) SetEnabled(enabled bool) {
	g.enabled = enabled
}

// SetMetrics sets the OpenTelemetry metrics for the gate.
func (g *EntitlementGate) SetMetrics(metrics *GateMetrics) {
	g.metrics = metrics
}

// AddExcludePath adds a path to be excluded from gating
func (g *EntitlementGate) AddExcludePath(path string) {
	g.excludePaths = append(g.excludePaths, path)
}

// AddExcludePrefix adds a path prefix to be excluded from gating
func (g *EntitlementGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

// Handler gates every request on AllowsOperation of the resolved state.
func (g *EntitlementGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := otel.Tracer("entitlement-gate")

		ctx, span := tracer.Start(ctx, "entitlement_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		traceID := GetReqID(ctx)

		if g.metrics != nil {
			g.metrics.RequestsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("path", r.URL.Path),
			))
		}

		if !g.enabled || g.shouldExcludePath(r.URL.Path) {
			span.SetAttributes(attribute.String("gate.decision", "excluded"))
			if g.metrics != nil && g.enabled {
				g.metrics.PathExclusions.Add(ctx, 1, metric.WithAttributes(
					attribute.String("path", r.URL.Path),
				))
			}
			next.ServeHTTP(w, r)
			return
		}

		state := g.resolver.GetLicenseState(ctx, g.licenseKey)
		span.SetAttributes(
			attribute.String("gate.decision", "evaluated"),
			attribute.String("license.state", string(state.State())),
		)

		if !state.AllowsOperation() {
			g.deny(w, r, state, traceID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireCapability returns route middleware that additionally demands a
// named capability. Meant to wrap individual routes inside a gated router.
func (g *EntitlementGate) RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if !g.enabled {
				next.ServeHTTP(w, r)
				return
			}

			if err := g.resolver.RequireCapability(ctx, g.licenseKey, capability); err != nil {
				traceID := GetReqID(ctx)

				g.logger.WarnContext(ctx, "capability denied",
					slog.String("capability", capability),
					slog.String("path", r.URL.Path),
					slog.String("trace_id", traceID))

				if g.metrics != nil {
					g.metrics.Denials.Add(ctx, 1, metric.WithAttributes(
						attribute.String("reason", "capability"),
						attribute.String("capability", capability),
					))
				}

				render.Render(w, r, errors.MapLicenseError(err, traceID))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *EntitlementGate) shouldExcludePath(path string) bool {
	for _, excluded := range g.excludePaths {
		if path == excluded {
			return true
		}
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *EntitlementGate) deny(w http.ResponseWriter, r *http.Request, state *license.LicenseState, traceID string) {
	ctx := r.Context()

	g.logger.WarnContext(ctx, "request denied by entitlement gate",
		slog.String("path", r.URL.Path),
		slog.String("license_state", string(state.State())),
		slog.String("license_key", license.MaskLicenseKey(state.Key())),
		slog.String("trace_id", traceID))

	if g.metrics != nil {
		g.metrics.Denials.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", "state"),
			attribute.String("license.state", string(state.State())),
		))
	}

	problem := errors.NewProblemDetails(
		http.StatusForbidden,
		"/errors/license-state-denied",
		"License State Denies Operation",
		"The current license state does not permit this operation.",
		fmt.Sprintf("%s#%s", r.URL.Path, traceID),
	).WithExtension("trace_id", traceID).
		WithExtension("error_code", "LICENSE_STATE_DENIED").
		WithExtension("license_state", string(state.State()))

	render.Render(w, r, problem)
}
