// Package otel publishes Engine metrics through an OpenTelemetry meter.
//
// [NewExporter] registers one Int64ObservableCounter per Engine counter and
// one cumulative bucket gauge per histogram, labelled by "le". A single
// callback reads [authkestra.Engine.MetricsSnapshot] on each collection.
// Callers own the MeterProvider.
package otel
