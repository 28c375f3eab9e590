// Package otel exposes otpauth engine metrics through an OpenTelemetry
// metric.Meter.
//
// Each counter becomes an Int64ObservableCounter with the same otpauth_*
// name the Prometheus exporter uses. The VerifyOtp latency histogram is
// published as one cumulative Int64ObservableGauge per bucket plus a count
// gauge. Callers own the MeterProvider.
package otel
