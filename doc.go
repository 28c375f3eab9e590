// Package otpauth authenticates users with emailed one-time passcodes and
// issues Redis-backed sessions.
//
// The [Engine] owns the OTP lifecycle: it mints a numeric code, stores only
// its argon2id digest in the durable record store, mirrors an expiry marker
// into a fast cache, and hands the plaintext to a [CodeSender]. A successful
// [Engine.VerifyOtp] consumes the record, marks the user verified and issues
// a signed session token. The [Sweeper] reconciles the two stores by removing
// OTP records whose cache marker has logically expired.
//
// # Invariants
//
//   - At most one live OTP record per identity. Issuance deletes and creates
//     inside one record-store transaction under a user row lock.
//   - Codes are stored hashed with a per-digest salt.
//   - Sessions only exist for verified identities.
//   - Verification never trusts the cache; it checks the record's own age.
//
// Engine methods are safe for concurrent use once [Builder.Build] returns.
package otpauth
