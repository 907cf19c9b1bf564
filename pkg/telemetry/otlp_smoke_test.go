package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Needs a collector: AGORA_OTLP_SMOKE_TEST=1 AGORA_TELEMETRY_OTLP_ENDPOINT=localhost:4317.
func TestOTLPSmoke(t *testing.T) {
	endpoint := os.Getenv("AGORA_TELEMETRY_OTLP_ENDPOINT")
	if os.Getenv("AGORA_OTLP_SMOKE_TEST") != "1" || endpoint == "" {
		t.Skip("set AGORA_OTLP_SMOKE_TEST=1 and AGORA_TELEMETRY_OTLP_ENDPOINT to run")
	}

	shutdown, err := InitWithConfig("agora-smoke", "test", Config{
		Exporter:           "otlp",
		OTLPEndpoint:       endpoint,
		OTLPInsecure:       os.Getenv("AGORA_TELEMETRY_OTLP_INSECURE") != "false",
		OTLPTimeoutSeconds: 5,
		MetricInterval:     time.Second,
	})
	if err != nil {
		t.Fatalf("InitWithConfig: %v", err)
	}

	ctx, span := otel.Tracer("agora/smoke").Start(context.Background(), "Runner.Turn",
		trace.WithAttributes(TurnAttributes("alice", "run-smoke", 1)...))
	metrics, err := NewToolMetrics(ctx)
	if err != nil {
		t.Fatalf("NewToolMetrics: %v", err)
	}
	metrics.RecordTurn(ctx, "alice")
	metrics.RecordExecution(ctx, "like_post", "success", "", 3*time.Millisecond)
	metrics.RecordResolution(ctx, "post", "resolved")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
