// Package internaldefs holds the metric names, help strings and bucket
// bounds shared by the Prometheus and OTel exporters, so both expose the
// same otpauth_* series.
//
// The package performs no I/O.
package internaldefs
