package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
)

// syncBuffer is written by the exporter goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init("kestrel-test", "v0.0.1", Config{Exporter: ExporterNone})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	if _, err := Init("kestrel-test", "v0.0.1", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("Init accepted an unknown exporter")
	}
}

func TestInit_StdoutWritesSpansAndMetrics(t *testing.T) {
	var out syncBuffer
	shutdown, err := Init("kestrel-test", "v0.0.1", Config{Exporter: ExporterStdout, Writer: &out})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	ctx := context.Background()
	_, span := otel.Tracer("kestrel/test").Start(ctx, "workflow.discover")
	span.End()
	counter, err := otel.Meter("kestrel/test").Int64Counter("kestrel.test.runs")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(ctx, 1)

	// Shutdown flushes both providers.
	if err := shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"workflow.discover", "kestrel.test.runs", "kestrel-test"} {
		if !strings.Contains(got, want) {
			t.Errorf("export output does not contain %q", want)
		}
	}
}
