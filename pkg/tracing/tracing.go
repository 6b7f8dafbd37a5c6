// Package tracing installs the OTLP trace exporter used by the server and the CLI.
package tracing

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/iota-uz/cveteval/pkg/configuration"
)

// Setup registers a global tracer provider exporting to opts.TempoURL and
// returns its shutdown function. Disabled options give a no-op shutdown.
func Setup(ctx context.Context, logger *logrus.Logger, opts configuration.OpenTelemetryOptions) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop
	}
	name := strings.TrimSpace(opts.ServiceName)
	if name == "" {
		name = "cveteval"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", name),
	))
	if err != nil {
		logger.WithError(err).Warn("otel resource init failed (continuing)")
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.TempoURL),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.WithError(err).Warn("otel exporter init failed, tracing disabled")
		return noop
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.WithField("endpoint", opts.TempoURL).Info("OpenTelemetry tracing enabled")
	return tp.Shutdown
}
