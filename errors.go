package otpauth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by the Engine wraps exactly one of these,
// so callers can branch with errors.Is or KindOf.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidCode    = errors.New("invalid code")
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrStorageFailure = errors.New("storage failure")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidInput   = errors.New("invalid input")
)

var (
	// ErrUserNotFound is returned when no user exists for an identity.
	ErrUserNotFound = kindError(ErrNotFound, "user not found")
	// ErrOtpNotFound is returned when the identity has no live OTP, including
	// one that exists but is past its expiry.
	ErrOtpNotFound = kindError(ErrNotFound, "otp not found")
	// ErrUserExists is returned by SignUp for a taken identity.
	ErrUserExists = kindError(ErrConflict, "user already exists")
	// ErrOtpConflict is returned when a concurrent request won the race to
	// issue the identity's OTP.
	ErrOtpConflict = kindError(ErrConflict, "otp issued concurrently")
	// ErrNotVerified is returned when a session is requested for an
	// unverified identity.
	ErrNotVerified = kindError(ErrConflict, "identity not verified")
	// ErrInvalidCredentials is returned by SignIn for any failed password check.
	ErrInvalidCredentials = kindError(ErrUnauthorized, "invalid credentials")
	// ErrSessionInvalid is returned for unparseable, expired or revoked tokens.
	ErrSessionInvalid = kindError(ErrUnauthorized, "session invalid")
	// ErrInvalidIdentity is returned for an identity that is not an email address.
	ErrInvalidIdentity = kindError(ErrInvalidInput, "invalid identity")
	// ErrPasswordPolicy is returned when a new password is too short or too long.
	ErrPasswordPolicy = kindError(ErrInvalidInput, "password policy violation")
	// ErrEngineNotReady is returned by a zero or partially built Engine.
	ErrEngineNotReady = kindError(ErrStorageFailure, "engine not initialized")
)

type authError struct {
	msg  string
	kind error
}

func (e *authError) Error() string { return e.msg }
func (e *authError) Unwrap() error { return e.kind }

func kindError(kind error, msg string) error {
	return &authError{msg: msg, kind: kind}
}

// storageFailure wraps a backend error. The cause stays reachable through
// errors.Is, so context cancellation remains detectable.
func storageFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

// ErrorKind is the stable category of an Engine error.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindInvalidCode
	KindDeliveryFailed
	KindStorageFailure
	KindUnauthorized
	KindInvalidInput
)

var kindSentinels = [...]struct {
	kind ErrorKind
	err  error
}{
	{KindNotFound, ErrNotFound},
	{KindConflict, ErrConflict},
	{KindInvalidCode, ErrInvalidCode},
	{KindDeliveryFailed, ErrDeliveryFailed},
	{KindStorageFailure, ErrStorageFailure},
	{KindUnauthorized, ErrUnauthorized},
	{KindInvalidInput, ErrInvalidInput},
}

// KindOf classifies err. Errors from outside the Engine are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindUnknown
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidCode:
		return "invalid_code"
	case KindDeliveryFailed:
		return "delivery_failed"
	case KindStorageFailure:
		return "storage_failure"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Retryable reports whether the caller may retry right away: a new code for
// InvalidCode, a new OTP request for DeliveryFailed. NotFound and Conflict
// mean start over.
func (k ErrorKind) Retryable() bool {
	return k == KindInvalidCode || k == KindDeliveryFailed
}

// HTTPStatus is the status code an HTTP layer should answer with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidCode, KindUnauthorized:
		return http.StatusUnauthorized
	case KindDeliveryFailed:
		return http.StatusBadGateway
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
