package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// DefaultMinSecretBytes is applied when Config.MinSecretBytes is zero.
	DefaultMinSecretBytes = 10
	// DefaultMaxSecretBytes is applied when Config.MaxSecretBytes is zero.
	DefaultMaxSecretBytes = 1024
)

var (
	// ErrSecretTooShort is returned by Hash when the input is below MinSecretBytes.
	ErrSecretTooShort = errors.New("password: secret too short")
	// ErrSecretTooLong is returned by Hash and Verify when the input exceeds MaxSecretBytes.
	ErrSecretTooLong = errors.New("password: secret too long")
	// ErrMalformedDigest is returned when a stored digest is not a valid argon2id PHC string.
	ErrMalformedDigest = errors.New("password: malformed digest")
)

// Config holds the argon2id cost parameters and the accepted secret length range.
//
// The same type hashes account passwords and one-time codes; OTP hashers set
// MinSecretBytes to the code length.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinSecretBytes int
	MaxSecretBytes int
}

// Argon2 hashes and verifies secrets as PHC-encoded argon2id digests.
// It is safe for concurrent use.
type Argon2 struct {
	config Config
}

type digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher bound to it.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinSecretBytes == 0 {
		cfg.MinSecretBytes = DefaultMinSecretBytes
	}
	if cfg.MaxSecretBytes == 0 {
		cfg.MaxSecretBytes = DefaultMaxSecretBytes
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return &Argon2{config: cfg}, nil
}

// Hash derives a salted digest for secret.
//
// Secrets are hashed as raw bytes with no Unicode normalization. A fresh
// random salt is drawn for every call, so hashing the same secret twice
// yields different digests.
func (a *Argon2) Hash(secret string) (string, error) {
	if len(secret) < a.config.MinSecretBytes {
		return "", ErrSecretTooShort
	}
	if len(secret) > a.config.MaxSecretBytes {
		return "", ErrSecretTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(secret),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. A mismatch is (false, nil);
// an error means the digest itself could not be used.
func (a *Argon2) Verify(secret string, encoded string) (bool, error) {
	if len(secret) > a.config.MaxSecretBytes {
		return false, ErrSecretTooLong
	}

	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(secret),
		d.salt,
		d.time,
		d.memory,
		d.parallelism,
		uint32(len(d.key)),
	)

	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case a.config.Memory > d.memory,
		a.config.Time > d.time,
		a.config.Parallelism > d.parallelism,
		int(a.config.KeyLength) != len(d.key):
		return true, nil
	}
	return false, nil
}

func parseDigest(encoded string) (*digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: expected 6 PHC sections", ErrMalformedDigest)
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedDigest, parts[1])
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, fmt.Errorf("%w: bad version", ErrMalformedDigest)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedDigest, version)
	}

	d := &digest{}
	if err := parseParams(parts[3], d); err != nil {
		return nil, err
	}

	d.salt, err = decodeSegment(parts[4])
	if err != nil || len(d.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: bad salt", ErrMalformedDigest)
	}
	d.key, err = decodeSegment(parts[5])
	if err != nil || len(d.key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrMalformedDigest)
	}

	return d, nil
}

// decodeSegment accepts both padded and unpadded base64.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func parseParams(part string, d *digest) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return fmt.Errorf("%w: bad parameter list", ErrMalformedDigest)
	}

	seen := 0
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: bad parameter %q", ErrMalformedDigest, pair)
		}

		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: bad memory", ErrMalformedDigest)
			}
			d.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: bad time", ErrMalformedDigest)
			}
			d.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: bad parallelism", ErrMalformedDigest)
			}
			d.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedDigest, name)
		}
		seen++
	}

	if seen != 3 || d.memory == 0 || d.time == 0 || d.parallelism == 0 {
		return fmt.Errorf("%w: missing parameters", ErrMalformedDigest)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	if cfg.MinSecretBytes < 1 {
		return errors.New("password min secret bytes must be >= 1")
	}
	if cfg.MaxSecretBytes < cfg.MinSecretBytes {
		return errors.New("password max secret bytes must be >= min secret bytes")
	}

	return nil
}
