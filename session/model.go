package session

// Session is the server-side record behind a session token.
//
// CreatedAt and ExpiresAt are unix seconds. ExpiresAt is the absolute cap;
// the idle window is carried by the Redis key TTL.
type Session struct {
	SessionID      string
	Identity       string
	IsVerified     bool
	DetailComplete bool

	CreatedAt int64
	ExpiresAt int64
}
