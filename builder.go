package otpauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/otpauth/cache"
	"github.com/MrEthical07/otpauth/jwt"
	"github.com/MrEthical07/otpauth/password"
	"github.com/MrEthical07/otpauth/record"
	"github.com/MrEthical07/otpauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it once during start-up; Build may
// only be called once.
type Builder struct {
	config  Config
	records record.Store
	cache   ExpiryCache
	redis   redis.UniversalClient
	sender  CodeSender
	logger  *slog.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRecordStore sets the durable store for users and OTP records.
func (b *Builder) WithRecordStore(store record.Store) *Builder {
	b.records = store
	return b
}

// WithCache overrides the expiry marker cache. Without it the engine keeps
// markers in the Redis client passed to WithRedis.
func (b *Builder) WithCache(c ExpiryCache) *Builder {
	b.cache = c
	return b
}

// WithRedis sets the client used for session storage.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCodeSender(sender CodeSender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and collaborators and returns a ready
// Engine. The sweeper is not started; call Engine.Sweeper().Run.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.records == nil {
		return nil, errors.New("record store required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.sender == nil {
		return nil, errors.New("code sender required")
	}

	markers := b.cache
	if markers == nil {
		markers = cache.NewRedis(b.redis)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- HASHERS --------
	passwords, err := password.NewArgon2(password.Config{
		Memory:         cfg.Password.Memory,
		Time:           cfg.Password.Time,
		Parallelism:    cfg.Password.Parallelism,
		SaltLength:     cfg.Password.SaltLength,
		KeyLength:      cfg.Password.KeyLength,
		MinSecretBytes: cfg.Password.MinLength,
		MaxSecretBytes: cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	codes, err := password.NewArgon2(password.Config{
		Memory:         cfg.Password.Memory,
		Time:           cfg.Password.Time,
		Parallelism:    cfg.Password.Parallelism,
		SaltLength:     cfg.Password.SaltLength,
		KeyLength:      cfg.Password.KeyLength,
		MinSecretBytes: cfg.OTP.Digits,
		MaxSecretBytes: cfg.OTP.Digits,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSION TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		Issuer:        cfg.Session.Issuer,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		records:   b.records,
		cache:     markers,
		sender:    b.sender,
		tokens:    tokens,
		passwords: passwords,
		codes:     codes,
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		log:       logger,
		now:       time.Now,
	}
	// Session lifetimes follow the engine clock.
	engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.MaxAge, cfg.Session.Rolling).
		WithClock(engine.clock)
	tokens.WithClock(engine.clock)

	b.built = true
	return engine, nil
}
