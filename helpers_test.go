package otpauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/otpauth/record"
	"github.com/MrEthical07/otpauth/record/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type captureSender struct {
	mu    sync.Mutex
	err   error
	calls int
	codes map[string][]string
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: map[string][]string{}}
}

func (s *captureSender) SendCode(_ context.Context, code, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.codes[identity] = append(s.codes[identity], code)
	return nil
}

func (s *captureSender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *captureSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *captureSender) last(t *testing.T, identity string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.codes[identity]
	if len(codes) == 0 {
		t.Fatalf("no code delivered to %s", identity)
	}
	return codes[len(codes)-1]
}

// faultyCache injects errors in front of a real cache.
type faultyCache struct {
	ExpiryCache
	setErr  error
	listErr error
}

func (c *faultyCache) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if c.setErr != nil {
		return false, c.setErr
	}
	return c.ExpiryCache.SetIfAbsent(ctx, key, value, ttl)
}

func (c *faultyCache) ListKeysByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.ExpiryCache.ListKeysByPrefix(ctx, prefix)
}

// staleStore serves a fixed OTP from reads outside transactions, the way a
// request that read just before a concurrent rotation would see it.
type staleStore struct {
	record.Store
	stale *record.Otp
}

func (s *staleStore) FindOtpByIdentity(ctx context.Context, identity string) (*record.Otp, error) {
	if s.stale != nil && s.stale.Identity == identity {
		otp := *s.stale
		return &otp, nil
	}
	return s.Store.FindOtpByIdentity(ctx, identity)
}

type failingTxStore struct {
	record.Store
	err error
}

func (s *failingTxStore) Transaction(context.Context, func(context.Context, record.Ops) error) error {
	return s.err
}

type testHarness struct {
	engine  *Engine
	records *memory.Store
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	sender  *captureSender

	mu  sync.Mutex
	now time.Time
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.PrivateKey = []byte(strings.Repeat("s", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newHarness(t *testing.T, opts ...func(*Config, *Builder)) *testHarness {
	t.Helper()

	mr, rdb := newTestRedis(t)
	h := &testHarness{
		records: memory.New(),
		mr:      mr,
		rdb:     rdb,
		sender:  newCaptureSender(),
		now:     time.Now(),
	}

	cfg := testConfig()
	b := New().
		WithRecordStore(h.records).
		WithRedis(rdb).
		WithCodeSender(h.sender).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, opt := range opts {
		opt(&cfg, b)
	}

	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	engine.now = h.clock
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

func (h *testHarness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *testHarness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *testHarness) signUp(t *testing.T, identity string) *record.User {
	t.Helper()
	u, err := h.engine.SignUp(context.Background(), identity)
	if err != nil {
		t.Fatalf("signup %s: %v", identity, err)
	}
	return u
}

func (h *testHarness) requestOtp(t *testing.T, identity string) string {
	t.Helper()
	if err := h.engine.RequestOtp(context.Background(), identity); err != nil {
		t.Fatalf("request otp for %s: %v", identity, err)
	}
	return h.sender.last(t, identity)
}

func (h *testHarness) otpFor(t *testing.T, identity string) *record.Otp {
	t.Helper()
	otp, err := h.records.FindOtpByIdentity(context.Background(), identity)
	if err != nil {
		t.Fatalf("find otp for %s: %v", identity, err)
	}
	return otp
}

func (h *testHarness) hasOtp(t *testing.T, identity string) bool {
	t.Helper()
	_, err := h.records.FindOtpByIdentity(context.Background(), identity)
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("find otp: %v", err)
	}
	return err == nil
}

func (h *testHarness) markerKeys() []string {
	var out []string
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, h.engine.config.OTP.MarkerPrefix) {
			out = append(out, k)
		}
	}
	return out
}

func (h *testHarness) sessionKeys() []string {
	var out []string
	prefix := h.engine.config.Session.RedisPrefix + ":"
	for _, k := range h.mr.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func (h *testHarness) marker(t *testing.T, otpID string) expiryMarker {
	t.Helper()
	raw, err := h.mr.Get(markerKey(h.engine.config.OTP.MarkerPrefix, otpID))
	if err != nil {
		t.Fatalf("marker for %s: %v", otpID, err)
	}
	m, err := decodeExpiryMarker([]byte(raw))
	if err != nil {
		t.Fatalf("decode marker: %v", err)
	}
	return m
}
