// Package prometheus exposes tokengate counters through client_golang.
//
// [Exporter] implements prometheus.Collector and reads
// [tokengate.Service.MetricsSnapshot] on each scrape. Counter names are
// tokengate_*_total; the single histogram is tokengate_refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry on its own.
//   - Mutate service state.
package prometheus
