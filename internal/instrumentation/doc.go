// Package instrumentation wires OpenTelemetry metrics and tracing for
// mailmirror and provides the tool audit log.
//
// Metrics cover MCP tool invocations, calls to the remote mailbox, sync
// runs, mutation outcomes and the size of the local cache. They are exported
// through Prometheus (default), OTLP or stdout, selected by environment:
//
//	INSTRUMENTATION_ENABLED=true|false
//	METRICS_EXPORTER=prometheus|otlp|stdout
//	TRACING_EXPORTER=otlp|stdout|none
//	OTEL_EXPORTER_OTLP_ENDPOINT=localhost:4318
//	OTEL_TRACES_SAMPLER_ARG=0.1
//
// A nil *Metrics is valid and records nothing, so engine components can be
// constructed without instrumentation in tests.
package instrumentation
