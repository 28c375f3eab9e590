// Package prometheus renders otpauth engine metrics in the Prometheus text
// exposition format.
//
// Counters are named otpauth_*_total. The VerifyOtp latency histogram is
// otpauth_otp_verify_latency_seconds and is only populated when latency
// histograms are enabled. Nothing is registered globally; mount Handler
// where the scraper expects it.
package prometheus
