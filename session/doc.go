// Package session persists server-side sessions in Redis.
//
// Each session is one key holding a compact versioned binary blob (see
// [Encode]). The key TTL is the idle window; [Session.ExpiresAt] is the
// absolute lifetime and is enforced on every read.
//
// This package does not sign or parse session tokens; that is the jwt
// package's job.
package session
