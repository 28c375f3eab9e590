// Package middleware adapts otpauth session validation to net/http.
//
// [RequireSession] reads the session token from the session cookie (or a
// Bearer header), validates it with the engine, re-issues the cookie so the
// idle window rolls, and stores the [otpauth.SessionInfo] on the request
// context. Handlers read it back with otpauth.SessionFromContext.
//
// The package makes no authentication decisions of its own.
package middleware
