// Package prometheus exposes Engine metrics as a Prometheus collector.
//
// [Exporter] implements prometheus.Collector and reads
// [authkestra.Engine.MetricsSnapshot] on every scrape. Counter names are
// prefixed authkestra_*_total; the single histogram is
// authkestra_validate_latency_seconds.
//
// Callers register the Exporter in their own registry, or mount Handler,
// which serves a private registry. Nothing is registered globally.
package prometheus
