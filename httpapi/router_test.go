package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/otpauth"
	"github.com/MrEthical07/otpauth/record/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) SendCode(_ context.Context, code, identity string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[identity] = code
	return nil
}

func (b *inbox) code(t *testing.T, identity string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.codes[identity]
	if !ok {
		t.Fatalf("no code for %s", identity)
	}
	return c
}

type testServer struct {
	srv    *httptest.Server
	client *http.Client
	inbox  *inbox
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := otpauth.DefaultConfig()
	cfg.Session.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	box := &inbox{codes: map[string]string{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := otpauth.New().
		WithConfig(cfg).
		WithRecordStore(memory.New()).
		WithRedis(rdb).
		WithCodeSender(box).
		WithLogger(logger).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	if opts.Logger == nil {
		opts.Logger = logger
	}
	srv := httptest.NewServer(NewRouter(engine, opts))
	jar, _ := cookiejar.New(nil)

	t.Cleanup(func() {
		srv.Close()
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &testServer{srv: srv, client: &http.Client{Jar: jar}, inbox: box}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp, out
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	return nil
}

func TestAuthFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})

	resp, body := s.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "A@X.com"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if data["email"] != "a@x.com" || data["isVerified"] != false {
		t.Fatalf("unexpected user %v", data)
	}

	resp, body = s.do(t, http.MethodPost, "/auth/otp", map[string]string{"email": "a@x.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("otp: expected 200, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{
		"email": "a@x.com",
		"otp":   s.inbox.code(t, "a@x.com"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d %v", resp.StatusCode, body)
	}
	c := sessionCookie(resp)
	if c == nil || !c.HttpOnly || c.MaxAge <= 0 {
		t.Fatalf("expected HttpOnly session cookie, got %+v", c)
	}

	resp, body = s.do(t, http.MethodGet, "/auth/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d %v", resp.StatusCode, body)
	}
	if sessionCookie(resp) == nil {
		t.Fatal("me must re-issue the session cookie")
	}
	me := body["data"].(map[string]any)
	if me["email"] != "a@x.com" || me["isVerified"] != true || me["detailComplete"] != false {
		t.Fatalf("unexpected session %v", me)
	}

	resp, body = s.do(t, http.MethodPost, "/auth/create-password", map[string]string{"password": "correct horse battery"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create-password: expected 200, got %d %v", resp.StatusCode, body)
	}
	if sessionCookie(resp) == nil || body["data"].(map[string]any)["detailComplete"] != true {
		t.Fatalf("create-password must issue a completed session, got %v", body)
	}

	resp, body = s.do(t, http.MethodPost, "/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d %v", resp.StatusCode, body)
	}
	if c := sessionCookie(resp); c == nil || c.MaxAge >= 0 {
		t.Fatalf("logout must clear the cookie, got %+v", c)
	}

	resp, body = s.do(t, http.MethodGet, "/auth/me", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["kind"] != "unauthorized" {
		t.Fatalf("me after logout: expected 401, got %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/auth/sign-in", map[string]string{
		"email":    "a@x.com",
		"password": "correct horse battery",
	})
	if resp.StatusCode != http.StatusOK || sessionCookie(resp) == nil {
		t.Fatalf("sign-in: expected 200 with cookie, got %d %v", resp.StatusCode, body)
	}
}

func TestErrorShape(t *testing.T) {
	s := newTestServer(t, Options{})

	cases := []struct {
		name      string
		path      string
		body      any
		status    int
		kind      string
		retryable bool
	}{
		{"unknown identity", "/auth/otp", map[string]string{"email": "nobody@x.com"}, http.StatusNotFound, "not_found", false},
		{"invalid email", "/auth/signup", map[string]string{"email": "not-an-email"}, http.StatusBadRequest, "invalid_input", false},
		{"unknown field", "/auth/otp", map[string]string{"mail": "a@x.com"}, http.StatusBadRequest, "invalid_input", false},
		{"no otp", "/auth/verify-otp", map[string]string{"email": "nobody@x.com", "otp": "123456"}, http.StatusNotFound, "not_found", false},
		{"bad credentials", "/auth/sign-in", map[string]string{"email": "nobody@x.com", "password": "whatever123"}, http.StatusUnauthorized, "unauthorized", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, tc.path, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d %v", tc.status, resp.StatusCode, body)
			}
			if body["kind"] != tc.kind || body["retryable"] != tc.retryable || body["success"] != false {
				t.Fatalf("unexpected error body %v", body)
			}
			if int(body["statusCode"].(float64)) != tc.status {
				t.Fatalf("statusCode field mismatch: %v", body)
			}
		})
	}
}

func TestWrongCodeIsRetryable(t *testing.T) {
	s := newTestServer(t, Options{})
	s.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "a@x.com"})
	s.do(t, http.MethodPost, "/auth/otp", map[string]string{"email": "a@x.com"})

	code := s.inbox.code(t, "a@x.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	resp, body := s.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"email": "a@x.com", "otp": wrong})
	if resp.StatusCode != http.StatusUnauthorized || body["kind"] != "invalid_code" || body["retryable"] != true {
		t.Fatalf("expected retryable invalid_code, got %d %v", resp.StatusCode, body)
	}

	resp, _ = s.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"email": "a@x.com", "otp": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("right code after wrong one must succeed, got %d", resp.StatusCode)
	}
}

func TestDuplicateSignUpConflicts(t *testing.T) {
	s := newTestServer(t, Options{})
	s.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "a@x.com"})

	resp, body := s.do(t, http.MethodPost, "/auth/signup", map[string]string{"email": "a@x.com"})
	if resp.StatusCode != http.StatusConflict || body["kind"] != "conflict" {
		t.Fatalf("expected 409 conflict, got %d %v", resp.StatusCode, body)
	}
}

func TestLogoutWithoutSession(t *testing.T) {
	s := newTestServer(t, Options{})

	resp, _ := s.do(t, http.MethodGet, "/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsMountAndRequestID(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	s := newTestServer(t, Options{Metrics: metrics})

	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("metrics not mounted: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected generated X-Request-Id")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := &Handler{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	panicky := h.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	panicky.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"message":"internal server error"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestReadIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	if got := readIP(r, false); got != "10.0.0.1" {
		t.Fatalf("untrusted proxy: got %s", got)
	}
	if got := readIP(r, true); got != "203.0.113.9" {
		t.Fatalf("trusted proxy: got %s", got)
	}
}
