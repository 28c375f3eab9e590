package otpauth

import (
	"context"
	"time"
)

// ExpiryCache is a key/value store with per-key TTL and atomic
// set-if-absent. The engine keeps OTP expiry markers in it.
type ExpiryCache interface {
	// Get returns ok=false for a missing key.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// SetIfAbsent is a no-op returning false when key already exists.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete must succeed for a missing key.
	Delete(ctx context.Context, key string) error
	ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// CodeSender delivers a plaintext code to the identity's contact channel.
type CodeSender interface {
	SendCode(ctx context.Context, code, identity string) error
}

// CodeSenderFunc adapts a function to CodeSender.
type CodeSenderFunc func(ctx context.Context, code, identity string) error

func (f CodeSenderFunc) SendCode(ctx context.Context, code, identity string) error {
	return f(ctx, code, identity)
}

// SessionInfo is the server-side view of an authenticated session.
type SessionInfo struct {
	SessionID      string
	Identity       string
	IsVerified     bool
	DetailComplete bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// SessionToken is a signed session credential ready to be set as an
// HttpOnly cookie. MaxAge is how long the cookie should live from now:
// one idle window, capped by the absolute lifetime.
type SessionToken struct {
	Token   string
	Session SessionInfo
	MaxAge  time.Duration
}
