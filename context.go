package otpauth

import "context"

type sessionContextKey struct{}
type clientIPContextKey struct{}

// WithSession attaches an authenticated session to ctx. HTTP middleware
// calls it after ValidateSession; handlers read it back with
// SessionFromContext instead of mutating the request.
func WithSession(ctx context.Context, info SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, info)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (SessionInfo, bool) {
	if ctx == nil {
		return SessionInfo{}, false
	}
	info, ok := ctx.Value(sessionContextKey{}).(SessionInfo)
	return info, ok
}

// WithClientIP attaches the caller's IP address to ctx for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
