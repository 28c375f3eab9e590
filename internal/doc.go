// Package internal holds private helpers for otpauth: random session ids,
// one-time code generation and the SQL transaction helper in dbx.
package internal
