// Package observability provides the optional tracing sink (OpenTelemetry)
// and turn metrics (Prometheus). Both degrade to no-ops: when a sink is
// disabled or fails, errors are logged locally and turns are unaffected.
package observability
