package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"coursegen/pkg/config"
)

func preserveGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestSetup_Disabled(t *testing.T) {
	preserveGlobals(t)

	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: false, Path: "unused"}, "dev")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); ok {
		t.Error("disabled tracing installed an sdk provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("no-op shutdown returned error: %v", err)
	}
}

func TestSetup_WritesSpans(t *testing.T) {
	preserveGlobals(t)
	path := filepath.Join(t.TempDir(), "logs", "traces.jsonl")

	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: true, Path: path}, "1.0.0")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatal("expected *sdktrace.TracerProvider")
	}

	_, span := otel.Tracer("test").Start(context.Background(), "course.run")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"course.run"`) {
		t.Errorf("span not exported: %s", data)
	}
}
