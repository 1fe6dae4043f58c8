// Package telemetry wires OpenTelemetry tracing and metrics for curatord.
//
// Spans and metrics are exported over OTLP (gRPC or HTTP) to a collector.
// When telemetry is disabled, Tracer and Meter return the global no-op
// implementations so instrumented code needs no nil checks.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests use NewTestTelemetry, which records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	o, _ := orchestrator.New(cfg, deps, orchestrator.WithTracer(tt.Tracer("test")))
//	...
//	tt.AssertSpanExists(t, "orchestrator.session")
package telemetry
