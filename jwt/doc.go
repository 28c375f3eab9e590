// Package jwt signs and verifies session tokens.
//
// A session token carries only the session id, the identity as subject and
// the absolute expiry. Everything else about the session is read from the
// session store, so a valid signature is necessary but not sufficient.
package jwt
