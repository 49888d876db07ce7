package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "entitled/internal/errors"
	"entitled/internal/infrastructure"
	"entitled/internal/license"
	"entitled/pkg/contracts/domain"
)

// LicenseHandler handles license-related HTTP requests over the manager facade
type LicenseHandler struct {
	service    LicenseService
	logger     *slog.Logger
	licenseKey string
}

// NewLicenseHandler creates a new license handler. licenseKey is the
// configured default; requests may name another key explicitly.
func NewLicenseHandler(service LicenseService, licenseKey string, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:    service,
		logger:     logger.With(slog.String("handler", "license")),
		licenseKey: licenseKey,
	}
}

// validationRequest wraps the contract type with render.Binder validation.
type validationRequest struct {
	domain.LicenseValidationRequest
}

func (v *validationRequest) Bind(r *http.Request) error {
	return license.ValidateLicenseKeyFormat(v.LicenseKey)
}

// activationRequest wraps the contract type with render.Binder validation.
type activationRequest struct {
	domain.LicenseActivationRequest
}

func (a *activationRequest) Bind(r *http.Request) error {
	return license.ValidateLicenseKeyFormat(a.LicenseKey)
}

// installRequest wraps the contract type with render.Binder validation.
type installRequest struct {
	domain.LicenseInstallRequest
}

func (i *installRequest) Bind(r *http.Request) error {
	if err := license.ValidateLicenseKeyFormat(i.LicenseKey); err != nil {
		return err
	}
	if i.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Post("/validate", h.Validate)
	r.Post("/activate", h.Activate)
	r.Post("/install", h.Install)
	r.Delete("/", h.Clear)
	r.Get("/stats", h.GetCacheStats)

	return r
}

// GetStatus handles GET /api/license/status. It consults the fail-secure
// facade and therefore never returns an error status itself; denial shows up
// as a RESTRICTED snapshot.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")
	start := time.Now()

	ctx, span := tracer.Start(ctx, "license_handler.get_status",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/status"),
		),
	)
	defer span.End()

	key := h.requestKey(r)
	traceID := infrastructure.TraceIDFromContext(ctx)

	state := h.service.GetLicenseState(ctx, key)

	span.SetAttributes(
		attribute.String("license.state", string(state.State())),
		attribute.Int64("request.latency_ms", time.Since(start).Milliseconds()),
	)

	h.logger.InfoContext(ctx, "license status served",
		slog.String("trace_id", traceID),
		slog.String("license_key", license.MaskLicenseKey(key)),
		slog.String("state", string(state.State())),
		slog.Duration("latency", time.Since(start)))

	render.JSON(w, r, statusSnapshot(state, traceID))
}

// Validate handles POST /api/license/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.validate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/validate"),
		),
	)
	defer span.End()

	traceID := infrastructure.TraceIDFromContext(ctx)

	req := &validationRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.MapLicenseError(license.ErrInvalidKey, traceID))
		return
	}

	opts := license.ValidateOptions{ForceNetwork: req.ForceNetwork}
	state, err := h.service.ValidateLicense(ctx, req.LicenseKey, opts)
	if err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "license validation failed",
			slog.String("trace_id", traceID),
			slog.String("license_key", license.MaskLicenseKey(req.LicenseKey)),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.MapLicenseError(err, traceID))
		return
	}

	span.SetAttributes(attribute.String("license.state", string(state.State())))

	facade := license.NewLicenseState(req.LicenseKey, state)
	render.JSON(w, r, &domain.LicenseOperationResponse{
		Success:   true,
		Message:   "license validated",
		Status:    statusSnapshot(facade, traceID),
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	})
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/activate"),
		),
	)
	defer span.End()

	traceID := infrastructure.TraceIDFromContext(ctx)

	req := &activationRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.MapLicenseError(license.ErrInvalidKey, traceID))
		return
	}

	state, err := h.service.ActivateLicense(ctx, req.LicenseKey)
	if err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", traceID),
			slog.String("license_key", license.MaskLicenseKey(req.LicenseKey)),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.MapLicenseError(err, traceID))
		return
	}

	h.logger.InfoContext(ctx, "license activated",
		slog.String("trace_id", traceID),
		slog.String("license_key", license.MaskLicenseKey(req.LicenseKey)),
		slog.String("state", string(state.State())))

	facade := license.NewLicenseState(req.LicenseKey, state)
	render.JSON(w, r, &domain.LicenseOperationResponse{
		Success:   true,
		Message:   "license activated",
		Status:    statusSnapshot(facade, traceID),
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	})
}

// Install handles POST /api/license/install, persisting an offline license
// file after verifying it parses, binds to this machine, and is not expired.
func (h *LicenseHandler) Install(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	req := &installRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.MapLicenseError(license.ErrInvalidKey, traceID))
		return
	}

	if err := h.service.InstallLicenseFile(ctx, req.LicenseKey, req.Content); err != nil {
		h.logger.WarnContext(ctx, "offline license install rejected",
			slog.String("trace_id", traceID),
			slog.String("license_key", license.MaskLicenseKey(req.LicenseKey)),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.MapLicenseError(err, traceID))
		return
	}

	h.logger.InfoContext(ctx, "offline license installed",
		slog.String("trace_id", traceID),
		slog.String("license_key", license.MaskLicenseKey(req.LicenseKey)))

	render.JSON(w, r, &domain.LicenseOperationResponse{
		Success:   true,
		Message:   "offline license installed",
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	})
}

// Clear handles DELETE /api/license, dropping cached state for the key.
func (h *LicenseHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)
	key := h.requestKey(r)

	removed := h.service.ClearLicenseState(key)

	h.logger.InfoContext(ctx, "license state cleared",
		slog.String("trace_id", traceID),
		slog.String("license_key", license.MaskLicenseKey(key)),
		slog.Int("removed", removed))

	render.JSON(w, r, map[string]any{
		"success": true,
		"removed": removed,
	})
}

// GetCacheStats handles GET /api/license/stats
func (h *LicenseHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, &domain.CacheStatsResponse{
		Stats:     h.service.CacheStats(),
		Timestamp: time.Now().UTC(),
	})
}

// requestKey resolves the license key for key-less endpoints: an explicit
// query parameter wins, otherwise the configured key applies.
func (h *LicenseHandler) requestKey(r *http.Request) string {
	if key := r.URL.Query().Get("key"); key != "" {
		return key
	}
	return h.licenseKey
}

// statusSnapshot converts the facade state into the contract snapshot.
func statusSnapshot(state *license.LicenseState, traceID string) *domain.LicenseStatusResponse {
	resp := &domain.LicenseStatusResponse{
		LicenseKey:  license.MaskLicenseKey(state.Key()),
		Status:      domain.EntitlementStatus(state.State()),
		Operational: state.AllowsOperation(),
		InGrace:     state.IsInGrace(),
		Expired:     state.IsExpired(),
		TraceID:     traceID,
		Timestamp:   time.Now().UTC(),
	}

	caps := state.Entitlement().Capabilities()
	if len(caps) > 0 {
		resp.Capabilities = make(map[string]bool, len(caps))
		for name := range caps {
			resp.Capabilities[name] = state.HasCapability(name)
		}
	}

	if t := state.LastVerifiedAt(); !t.IsZero() {
		utc := t.UTC()
		resp.LastVerifiedAt = &utc
	}

	return resp
}
