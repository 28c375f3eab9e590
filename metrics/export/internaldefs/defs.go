package internaldefs

import (
	"github.com/MrEthical07/otpauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   otpauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   otpauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: otpauth.MetricOtpRequested, Name: "otpauth_otp_requested_total", Help: "OTPs issued and handed to the code sender."},
	{ID: otpauth.MetricOtpRotated, Name: "otpauth_otp_rotated_total", Help: "OTP requests that replaced a live code."},
	{ID: otpauth.MetricOtpDeliveryFailed, Name: "otpauth_otp_delivery_failed_total", Help: "OTPs stored but not delivered."},
	{ID: otpauth.MetricOtpMarkerFailed, Name: "otpauth_otp_marker_failed_total", Help: "OTP requests rolled back after the expiry marker write failed."},
	{ID: otpauth.MetricOtpVerifySuccess, Name: "otpauth_otp_verify_success_total", Help: "Successful OTP verifications."},
	{ID: otpauth.MetricOtpVerifyInvalidCode, Name: "otpauth_otp_verify_invalid_code_total", Help: "OTP verifications with a wrong code."},
	{ID: otpauth.MetricOtpVerifyNotFound, Name: "otpauth_otp_verify_not_found_total", Help: "OTP verifications with no live OTP."},
	{ID: otpauth.MetricOtpVerifyExpired, Name: "otpauth_otp_verify_expired_total", Help: "OTP verifications against an expired OTP."},
	{ID: otpauth.MetricSweepCycles, Name: "otpauth_sweep_cycles_total", Help: "Completed sweeper cycles."},
	{ID: otpauth.MetricSweepRemoved, Name: "otpauth_sweep_removed_total", Help: "Expired OTPs removed by the sweeper."},
	{ID: otpauth.MetricSweepMalformed, Name: "otpauth_sweep_malformed_total", Help: "Unparseable expiry markers seen by the sweeper."},
	{ID: otpauth.MetricSweepFailure, Name: "otpauth_sweep_failure_total", Help: "Sweeper key or cycle failures."},
	{ID: otpauth.MetricSessionCreated, Name: "otpauth_session_created_total", Help: "Created sessions."},
	{ID: otpauth.MetricSessionValidated, Name: "otpauth_session_validated_total", Help: "Successful session validations."},
	{ID: otpauth.MetricSessionInvalid, Name: "otpauth_session_invalid_total", Help: "Rejected session tokens."},
	{ID: otpauth.MetricSessionDestroyed, Name: "otpauth_session_destroyed_total", Help: "Destroyed sessions."},
	{ID: otpauth.MetricSignUpSuccess, Name: "otpauth_signup_success_total", Help: "Registered users."},
	{ID: otpauth.MetricSignUpDuplicate, Name: "otpauth_signup_duplicate_total", Help: "Sign-ups rejected as duplicate."},
	{ID: otpauth.MetricSignInSuccess, Name: "otpauth_sign_in_success_total", Help: "Successful password sign-ins."},
	{ID: otpauth.MetricSignInFailure, Name: "otpauth_sign_in_failure_total", Help: "Failed password sign-ins."},
	{ID: otpauth.MetricPasswordCreated, Name: "otpauth_password_created_total", Help: "Passwords set after OTP verification."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: otpauth.MetricVerifyLatency, Name: "otpauth_otp_verify_latency_seconds", Help: "VerifyOtp latency histogram."},
}

// HistogramBounds are the bucket upper bounds in seconds, matching the
// engine's millisecond buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into le-style running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
