package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/otpauth"
)

// SessionValidator is the part of *otpauth.Engine the guard needs.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*otpauth.SessionToken, error)
}

// ErrorWriter renders a rejected request. err is always non-nil.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// CookieConfig names and scopes the session cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

// DefaultCookieConfig returns a host-only "session" cookie on "/".
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{Name: "session", Path: "/"}
}

// SetSessionCookie writes tok as an HttpOnly, SameSite=Lax cookie that
// lives for tok.MaxAge.
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, tok *otpauth.SessionToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    tok.Token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(tok.MaxAge / time.Second),
		Expires:  time.Now().Add(tok.MaxAge),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie in the client.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the session token from the cookie, falling back
// to an Authorization: Bearer header for non-browser clients.
func TokenFromRequest(r *http.Request, cfg CookieConfig) (string, bool) {
	if c, err := r.Cookie(cfg.Name); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

// RequireSession rejects requests without a valid session. On success the
// session cookie is re-issued with a fresh max age and the session is put
// on the request context. A nil onError answers 401 with a plain body.
func RequireSession(v SessionValidator, cookie CookieConfig, onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				onError(w, r, otpauth.ErrEngineNotReady)
				return
			}

			token, ok := TokenFromRequest(r, cookie)
			if !ok {
				onError(w, r, otpauth.ErrSessionInvalid)
				return
			}

			tok, err := v.ValidateSession(r.Context(), token)
			if err != nil {
				if otpauth.KindOf(err) == otpauth.KindUnauthorized {
					ClearSessionCookie(w, cookie)
				}
				onError(w, r, err)
				return
			}

			SetSessionCookie(w, cookie, tok)
			next.ServeHTTP(w, r.WithContext(otpauth.WithSession(r.Context(), tok.Session)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
