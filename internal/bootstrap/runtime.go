package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/MrEthical07/otpauth"
	"github.com/MrEthical07/otpauth/cache"
	"github.com/MrEthical07/otpauth/delivery"
	"github.com/MrEthical07/otpauth/httpapi"
	"github.com/MrEthical07/otpauth/metrics/export/prometheus"
	"github.com/MrEthical07/otpauth/middleware"
	"github.com/MrEthical07/otpauth/record/sqlstore"
)

const shutdownTimeout = 10 * time.Second

// Runtime wires the daemon: record store, Redis, code delivery, engine,
// sweeper and HTTP server.
type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	engine     *otpauth.Engine
	sweeper    *otpauth.Sweeper
	httpServer *http.Server
	cleanupFn  func()
	closeOnce  sync.Once
}

// NewRuntime loads configuration from path and connects every dependency.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	return newRuntime(ctx, cfg, logger)
}

func newRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	logger.Info("bootstrapping otpauth", "http_addr", cfg.HTTPAddr, "db_driver", cfg.DatabaseDriver)

	dialect := sqlstore.Dialect(cfg.DatabaseDriver)
	db, err := sqlstore.Open(ctx, dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DatabaseDriver, err)
	}
	store, err := sqlstore.New(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	sender, closeSender, err := newSender(cfg, logger)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init delivery: %w", err)
	}

	b := otpauth.New().
		WithConfig(cfg.Engine).
		WithRecordStore(store).
		WithRedis(redisClient).
		WithCodeSender(sender).
		WithLogger(logger)
	if cfg.Engine.Audit.Enabled {
		b = b.WithAuditSink(otpauth.NewLogSink(logger.With("component", "audit")))
	}
	engine, err := b.Build()
	if err != nil {
		closeSender()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}

	router := httpapi.NewRouter(engine, httpapi.Options{
		Cookie: middleware.CookieConfig{
			Name:   cfg.CookieName,
			Path:   "/",
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
		},
		Logger:     logger,
		Metrics:    prometheus.NewPrometheusExporter(engine).Handler(),
		TrustProxy: cfg.TrustProxy,
	})

	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		engine:  engine,
		sweeper: engine.Sweeper(),
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		cleanupFn: func() {
			engine.Close()
			closeSender()
			_ = redisClient.Close()
			_ = db.Close()
		},
	}, nil
}

// newSender picks Kafka when brokers are configured, then SMTP, and falls
// back to logging codes for local development.
func newSender(cfg Config, logger *slog.Logger) (otpauth.CodeSender, func(), error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		s, err := delivery.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("otp delivery via kafka", "topic", cfg.KafkaTopic)
		return s, func() { _ = s.Close() }, nil
	case cfg.SMTPHost != "":
		s, err := delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			CodeTTL:  cfg.Engine.OTP.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("otp delivery via smtp", "host", cfg.SMTPHost)
		return s, func() {}, nil
	default:
		logger.Warn("no delivery configured, codes are written to the log")
		return delivery.NewLogSender(logger), func() {}, nil
	}
}

// Handler returns the HTTP handler, for tests.
func (r *Runtime) Handler() http.Handler {
	return r.httpServer.Handler
}

// Run serves HTTP and sweeps expired OTPs until ctx is cancelled or a
// SIGINT/SIGTERM arrives, then shuts down and releases every dependency.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := r.sweeper.Run(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("sweeper stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("http shutdown", "error", err)
	}

	cancelSweep()
	<-sweepDone
	r.logger.Info("shutdown complete")
	return runErr
}

// Close releases every dependency. It is safe to call after Run.
func (r *Runtime) Close() {
	r.closeOnce.Do(r.cleanupFn)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
