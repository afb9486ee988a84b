// Package otel publishes tokengate metrics through an OpenTelemetry meter.
//
// [NewExporter] registers one Int64ObservableCounter per tokengate counter
// and one Int64ObservableGauge per refresh latency bucket. A single callback
// reads [tokengate.Service.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider and supplies the Meter.
package otel
