package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/otpauth"
)

type stubValidator struct {
	token string
	err   error
	calls int
}

func (s *stubValidator) ValidateSession(_ context.Context, token string) (*otpauth.SessionToken, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if token != s.token {
		return nil, otpauth.ErrSessionInvalid
	}
	return &otpauth.SessionToken{
		Token:   token,
		Session: otpauth.SessionInfo{SessionID: "sid", Identity: "a@x.com", IsVerified: true},
		MaxAge:  24 * time.Hour,
	}, nil
}

func protected(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := otpauth.SessionFromContext(r.Context())
		if !ok || info.Identity != "a@x.com" {
			t.Fatalf("session missing from context: %+v %v", info, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireSessionCookie(t *testing.T) {
	v := &stubValidator{token: "good"}
	h := RequireSession(v, DefaultCookieConfig(), nil)(protected(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "good"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != 86400 || !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected renewed HttpOnly cookie, got %+v", cookies)
	}
}

func TestRequireSessionBearerFallback(t *testing.T) {
	v := &stubValidator{token: "good"}
	h := RequireSession(v, DefaultCookieConfig(), nil)(protected(t))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestRequireSessionRejects(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("next must not run")
	})

	cases := map[string]*http.Request{
		"no token":     httptest.NewRequest(http.MethodGet, "/me", nil),
		"wrong token":  httptest.NewRequest(http.MethodGet, "/me", nil),
		"empty bearer": httptest.NewRequest(http.MethodGet, "/me", nil),
	}
	cases["wrong token"].AddCookie(&http.Cookie{Name: "session", Value: "bad"})
	cases["empty bearer"].Header.Set("Authorization", "Bearer ")

	for name, req := range cases {
		var got error
		h := RequireSession(&stubValidator{token: "good"}, DefaultCookieConfig(), func(w http.ResponseWriter, _ *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusUnauthorized)
		})(next)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || !errors.Is(got, otpauth.ErrUnauthorized) {
			t.Fatalf("%s: expected 401 unauthorized, got %d %v", name, rec.Code, got)
		}
	}
}

func TestRequireSessionStorageFailureKeepsCookie(t *testing.T) {
	v := &stubValidator{err: otpauth.ErrEngineNotReady}
	h := RequireSession(v, DefaultCookieConfig(), func(w http.ResponseWriter, _ *http.Request, err error) {
		w.WriteHeader(otpauth.KindOf(err).HTTPStatus())
	})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "good"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("backend failures must not clear the client cookie")
	}
}
