package license

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"entitled/internal/infrastructure"
)

// logOperation logs operation completion with duration and records the
// outcome on the active span.
func (m *Manager) logOperation(ctx context.Context, operation string, start time.Time, err error) {
	logger := infrastructure.LoggerWithContext(ctx)
	duration := time.Since(start)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("license.operation", operation),
			attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
			attribute.Bool("license.success", err == nil),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	attrs := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("operation", operation),
		slog.Duration("duration", duration),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		logger.LogAttrs(ctx, slog.LevelError, "license operation failed", attrs...)
		return
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "license operation completed", attrs...)
}

// logAction logs a specific action with a result and structured attributes.
// License keys must already be masked by the caller.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	logger := infrastructure.LoggerWithContext(ctx)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		infrastructure.AddSpanEvent(ctx, "license."+action, map[string]any{
			"action": action,
			"result": result,
		})
	}

	allAttrs := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("action", action),
	}
	allAttrs = append(allAttrs, attrs...)
	logger.LogAttrs(ctx, level, result, allAttrs...)
}
