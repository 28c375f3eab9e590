// Package password hashes secrets with argon2id.
//
// Digests use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// The same hasher type covers account passwords and one-time codes. Each
// digest carries its own random salt and cost parameters, so [Argon2.Verify]
// works across configuration changes and [Argon2.NeedsUpgrade] tells callers
// when to re-hash after a successful match.
//
// This package never stores or logs secrets.
package password
