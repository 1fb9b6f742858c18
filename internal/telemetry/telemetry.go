// Package telemetry provides tracing instrumentation for the engine.
// Without a configured exporter the global provider is a noop, so spans
// cost nothing in the default setup.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/reportforge/reportforge"

// Setup installs an OTLP gRPC exporter as the global tracer provider and
// returns its shutdown function. Callers gate this on their telemetry
// config; without it the global provider stays the noop default.
func Setup(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			semconv.ServiceName("reportforge"))),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// StartStageSpan starts a span for one stage producer call.
func StartStageSpan(ctx context.Context, stage string, forced bool) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "stage."+stage)
	span.SetAttributes(
		attribute.String("stage.name", stage),
		attribute.Bool("stage.forced", forced),
	)
	return ctx, span
}

// EndStageSpan ends a stage span with its outcome.
func EndStageSpan(span trace.Span, fromCache bool, err error) {
	span.SetAttributes(attribute.Bool("stage.from_cache", fromCache))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartSiteSpan starts a span for one site exploration task.
func StartSiteSpan(ctx context.Context, url string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "explore.site")
	span.SetAttributes(attribute.String("site.url", url))
	return ctx, span
}

// StartResumeSpan starts a span for a credential-supplied resume call.
func StartResumeSpan(ctx context.Context, targetID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "resume")
	span.SetAttributes(attribute.String("resume.target", targetID))
	return ctx, span
}
