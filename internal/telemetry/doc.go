// Package telemetry provides OpenTelemetry instrumentation for remend.
//
// # Overview
//
// This package implements distributed tracing, metrics, and log export using
// the OpenTelemetry Go SDK. Data is shipped over OTLP to a collector; the
// log provider additionally feeds the otelzap bridge so structured logs and
// spans share trace context.
//
// # Usage
//
// Create a telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("remend.orchestrator")
//	ctx, span := tracer.Start(ctx, "orchestrator.RunPass")
//	defer span.End()
//
//	meter := tel.Meter("remend.probe")
//	counter, _ := meter.Int64Counter("remend.probe.runs")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	observability:
//	  enable_telemetry: true
//	  service_name: "remend"
//	  otlp_endpoint: "localhost:4317"
//
// # Error Handling
//
// Telemetry failures never abort a remediation run. If a provider cannot be
// initialized the instance logs a warning, marks itself degraded, and hands
// out no-op tracers and meters.
//
// # Testing
//
// Use TestTelemetry for in-memory span and metric capture:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "probe.run")
//	span.End()
//	tt.RequireSpan(t, "probe.run")
package telemetry
