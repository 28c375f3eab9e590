package otpauth

import (
	"errors"
	"strings"
	"time"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override fields; Builder.Build validates the result.
type Config struct {
	OTP      OTPConfig
	Session  SessionConfig
	Password PasswordConfig
	Sweeper  SweeperConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls code minting and expiry.
//
// TTL is the logical lifetime and is the single value used on both the
// first-issue and rotation paths. CacheTTL is the cache-native TTL on the
// expiry marker. It must exceed TTL by at least one Sweeper.Interval so the
// marker is still readable on the first sweep after it logically expires.
type OTPConfig struct {
	Digits       int
	TTL          time.Duration
	CacheTTL     time.Duration
	MarkerPrefix string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session storage and token signing.
type SessionConfig struct {
	RedisPrefix      string
	MaxAge           time.Duration // idle window
	Rolling          bool          // renew the idle window on every validation
	AbsoluteLifetime time.Duration

	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters shared by password and OTP
// hashing. MinLength and MaxLength apply to passwords only.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
SWEEPER CONFIG
====================================
*/

// SweeperConfig controls the expiry sweeper loop.
type SweeperConfig struct {
	Interval time.Duration
	// CycleTimeout bounds one sweep cycle; zero means Interval.
	CycleTimeout time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. Signing keys are left
// empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:       6,
			TTL:          5 * time.Minute,
			CacheTTL:     6 * time.Minute,
			MarkerPrefix: "otp:",
		},
		Session: SessionConfig{
			RedisPrefix:      "sess",
			MaxAge:           24 * time.Hour,
			Rolling:          true,
			AbsoluteLifetime: 7 * 24 * time.Hour,
			SigningMethod:    "hs256",
			Issuer:           "otpauth",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Sweeper: SweeperConfig{
			Interval: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.CacheTTL < c.OTP.TTL+c.Sweeper.Interval {
		return errors.New("OTP CacheTTL must be >= OTP TTL + Sweeper Interval")
	}
	if c.OTP.MarkerPrefix == "" || strings.ContainsAny(c.OTP.MarkerPrefix, "*?[]") {
		return errors.New("OTP MarkerPrefix must be non-empty and free of glob characters")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.MaxAge <= 0 {
		return errors.New("Session MaxAge must be > 0")
	}
	if c.Session.AbsoluteLifetime < c.Session.MaxAge {
		return errors.New("Session AbsoluteLifetime must be >= MaxAge")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 || len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Session SigningMethod")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Sweeper
	if c.Sweeper.Interval <= 0 {
		return errors.New("Sweeper Interval must be > 0")
	}
	if c.Sweeper.CycleTimeout < 0 {
		return errors.New("Sweeper CycleTimeout must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
