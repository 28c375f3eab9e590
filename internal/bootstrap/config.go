package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/otpauth"
	"gopkg.in/yaml.v3"
)

// Config is the resolved daemon configuration.
type Config struct {
	HTTPAddr   string
	TrustProxy bool
	LogLevel   string

	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	RedisURL       string

	CookieName   string
	CookieDomain string
	CookieSecure bool

	KafkaBrokers []string
	KafkaTopic   string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	Engine otpauth.Config
}

// configFile mirrors the YAML schema. Durations use Go syntax ("5m").
type configFile struct {
	Server struct {
		Addr       string `yaml:"addr"`
		TrustProxy *bool  `yaml:"trust_proxy"`
		LogLevel   string `yaml:"log_level"`
	} `yaml:"server"`
	Dependencies struct {
		DatabaseDriver string `yaml:"database_driver"`
		DatabaseURL    string `yaml:"database_url"`
		RedisURL       string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	OTP struct {
		Digits        int    `yaml:"digits"`
		TTL           string `yaml:"ttl"`
		CacheTTL      string `yaml:"cache_ttl"`
		MarkerPrefix  string `yaml:"marker_prefix"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"otp"`
	Session struct {
		MaxAge           string `yaml:"max_age"`
		AbsoluteLifetime string `yaml:"absolute_lifetime"`
		Rolling          *bool  `yaml:"rolling"`
		Issuer           string `yaml:"issuer"`
		CookieName       string `yaml:"cookie_name"`
		CookieDomain     string `yaml:"cookie_domain"`
		CookieSecure     *bool  `yaml:"cookie_secure"`
	} `yaml:"session"`
	Delivery struct {
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		SMTP struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			Username string `yaml:"username"`
			From     string `yaml:"from"`
		} `yaml:"smtp"`
	} `yaml:"delivery"`
	Audit struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"audit"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error. Secrets (session key, SMTP password) are
// read from the environment only.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		DatabaseDriver: "postgres",
		CookieName:     "session",
		KafkaTopic:     "auth.otp.issued",
		SMTPPort:       587,
		Engine:         otpauth.DefaultConfig(),
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("missing DB_URL")
	}
	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "sqlite" {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.RedisURL == "" {
		return Config{}, errors.New("missing REDIS_URL")
	}
	if len(cfg.Engine.Session.PrivateKey) == 0 {
		return Config{}, errors.New("missing SESSION_SECRET")
	}
	if err := cfg.Engine.Validate(); err != nil {
		return Config{}, fmt.Errorf("engine config: %w", err)
	}

	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if f.Server.Addr != "" {
		cfg.HTTPAddr = f.Server.Addr
	}
	if f.Server.TrustProxy != nil {
		cfg.TrustProxy = *f.Server.TrustProxy
	}
	if f.Server.LogLevel != "" {
		cfg.LogLevel = f.Server.LogLevel
	}

	if f.Dependencies.DatabaseDriver != "" {
		cfg.DatabaseDriver = f.Dependencies.DatabaseDriver
	}
	if f.Dependencies.DatabaseURL != "" {
		cfg.DatabaseURL = f.Dependencies.DatabaseURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}

	if f.OTP.Digits > 0 {
		cfg.Engine.OTP.Digits = f.OTP.Digits
	}
	if f.OTP.MarkerPrefix != "" {
		cfg.Engine.OTP.MarkerPrefix = f.OTP.MarkerPrefix
	}
	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{f.OTP.TTL, &cfg.Engine.OTP.TTL, "otp.ttl"},
		{f.OTP.CacheTTL, &cfg.Engine.OTP.CacheTTL, "otp.cache_ttl"},
		{f.OTP.SweepInterval, &cfg.Engine.Sweeper.Interval, "otp.sweep_interval"},
		{f.Session.MaxAge, &cfg.Engine.Session.MaxAge, "session.max_age"},
		{f.Session.AbsoluteLifetime, &cfg.Engine.Session.AbsoluteLifetime, "session.absolute_lifetime"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if f.Session.Rolling != nil {
		cfg.Engine.Session.Rolling = *f.Session.Rolling
	}
	if f.Session.Issuer != "" {
		cfg.Engine.Session.Issuer = f.Session.Issuer
	}
	if f.Session.CookieName != "" {
		cfg.CookieName = f.Session.CookieName
	}
	if f.Session.CookieDomain != "" {
		cfg.CookieDomain = f.Session.CookieDomain
	}
	if f.Session.CookieSecure != nil {
		cfg.CookieSecure = *f.Session.CookieSecure
	}

	if len(f.Delivery.Kafka.Brokers) > 0 {
		cfg.KafkaBrokers = f.Delivery.Kafka.Brokers
	}
	if f.Delivery.Kafka.Topic != "" {
		cfg.KafkaTopic = f.Delivery.Kafka.Topic
	}
	if f.Delivery.SMTP.Host != "" {
		cfg.SMTPHost = f.Delivery.SMTP.Host
	}
	if f.Delivery.SMTP.Port > 0 {
		cfg.SMTPPort = f.Delivery.SMTP.Port
	}
	if f.Delivery.SMTP.Username != "" {
		cfg.SMTPUsername = f.Delivery.SMTP.Username
	}
	if f.Delivery.SMTP.From != "" {
		cfg.SMTPFrom = f.Delivery.SMTP.From
	}

	if f.Audit.Enabled != nil {
		cfg.Engine.Audit.Enabled = *f.Audit.Enabled
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.TrustProxy = envBool("TRUST_PROXY", cfg.TrustProxy)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.DatabaseDriver = strings.ToLower(envOrDefault("DB_DRIVER", cfg.DatabaseDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)

	cfg.CookieDomain = envOrDefault("COOKIE_DOMAIN", cfg.CookieDomain)
	cfg.CookieSecure = envBool("COOKIE_SECURE", cfg.CookieSecure)

	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.SMTPHost = envOrDefault("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = envInt("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = envOrDefault("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = envOrDefault("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = envOrDefault("SMTP_FROM", cfg.SMTPFrom)

	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		cfg.Engine.Session.PrivateKey = []byte(secret)
	}
	cfg.Engine.Audit.Enabled = envBool("AUDIT_ENABLED", cfg.Engine.Audit.Enabled)
	cfg.Engine.Metrics.EnableLatencyHistograms = envBool("METRICS_LATENCY", cfg.Engine.Metrics.EnableLatencyHistograms)

	var err error
	if cfg.Engine.OTP.TTL, err = envDuration("OTP_TTL", cfg.Engine.OTP.TTL); err != nil {
		return err
	}
	if cfg.Engine.OTP.CacheTTL, err = envDuration("OTP_CACHE_TTL", cfg.Engine.OTP.CacheTTL); err != nil {
		return err
	}
	if cfg.Engine.Sweeper.Interval, err = envDuration("SWEEP_INTERVAL", cfg.Engine.Sweeper.Interval); err != nil {
		return err
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envDuration, unlike envInt, fails on invalid values.
func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

// envCSV drops empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
