package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestSetup_InstallsProvider(t *testing.T) {
	previous := otel.GetTracerProvider()
	defer otel.SetTracerProvider(previous)

	shutdown, err := Setup(context.Background(), "localhost:4317")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if otel.GetTracerProvider() == previous {
		t.Error("global tracer provider was not replaced")
	}

	// Spans record against the installed provider; no collector is
	// listening, so flushing on shutdown may fail and that is fine.
	_, span := StartStageSpan(context.Background(), "analyze_target", false)
	EndStageSpan(span, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
