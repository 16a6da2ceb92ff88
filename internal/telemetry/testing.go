package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a Telemetry wired to in-memory span recording and a
// manual metric reader, for asserting on instrumentation in tests.
type TestTelemetry struct {
	*Telemetry

	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
}

// NewTestTelemetry builds an enabled instance whose exporters never
// leave the process.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tt := &TestTelemetry{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(recorder)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		recorder: recorder,
		reader:   reader,
	}
	tt.healthy.Store(true)
	return tt
}

// Spans returns every span ended so far, in end order.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.recorder.Ended()
}

// Span returns the first ended span with the given name, or nil.
func (t *TestTelemetry) Span(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// RequireSpan fails the test unless a span with the given name was
// recorded, and returns it.
func (t *TestTelemetry) RequireSpan(tb testing.TB, name string) trace.ReadOnlySpan {
	tb.Helper()
	span := t.Span(name)
	if span == nil {
		tb.Fatalf("no span named %q, recorded: %v", name, t.spanNames())
	}
	return span
}

// Collect drains current metric state from the manual reader into rm.
func (t *TestTelemetry) Collect(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	return t.reader.Collect(ctx, rm)
}

func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

// SpanAttr looks up an attribute on a recorded span by key.
func SpanAttr(span trace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}
