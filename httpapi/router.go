package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/MrEthical07/otpauth"
	"github.com/MrEthical07/otpauth/middleware"
	"github.com/go-chi/chi/v5"
)

// Options tunes the router. The zero value is usable.
type Options struct {
	Cookie middleware.CookieConfig
	Logger *slog.Logger
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
	// TrustProxy makes the client IP come from X-Forwarded-For.
	TrustProxy bool
}

// Handler binds the HTTP surface to an engine.
type Handler struct {
	engine *otpauth.Engine
	cookie middleware.CookieConfig
	log    *slog.Logger
}

// NewRouter registers the auth routes and the middleware stack.
func NewRouter(engine *otpauth.Engine, opts Options) http.Handler {
	if opts.Cookie.Name == "" {
		opts.Cookie = middleware.DefaultCookieConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Handler{
		engine: engine,
		cookie: opts.Cookie,
		log:    opts.Logger.With("module", "http"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)
	r.Use(clientIPMiddleware(opts.TrustProxy))

	r.Get("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.signUp)
		r.Post("/otp", h.requestOtp)
		r.Post("/verify-otp", h.verifyOtp)
		r.Post("/sign-in", h.signIn)
		r.Get("/logout", h.logout)
		r.Post("/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(engine, h.cookie, h.writeGuardError))
			r.Post("/create-password", h.createPassword)
			r.Get("/me", h.me)
		})
	})

	return r
}
