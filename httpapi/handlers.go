package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/otpauth"
	"github.com/MrEthical07/otpauth/middleware"
)

type emailRequest struct {
	Email string `json:"email"`
}

type verifyOtpRequest struct {
	Email string `json:"email"`
	Otp   string `json:"otp"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createPasswordRequest struct {
	Password string `json:"password"`
}

type userResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	IsVerified     bool      `json:"isVerified"`
	DetailComplete bool      `json:"detailComplete"`
	CreatedAt      time.Time `json:"createdAt"`
}

type sessionResponse struct {
	Email          string    `json:"email"`
	IsVerified     bool      `json:"isVerified"`
	DetailComplete bool      `json:"detailComplete"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func newSessionResponse(info otpauth.SessionInfo) sessionResponse {
	return sessionResponse{
		Email:          info.Identity,
		IsVerified:     info.IsVerified,
		DetailComplete: info.DetailComplete,
		CreatedAt:      info.CreatedAt.UTC(),
		ExpiresAt:      info.ExpiresAt.UTC(),
	}
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, "signup", &req) {
		return
	}

	user, err := h.engine.SignUp(r.Context(), req.Email)
	if err != nil {
		h.fail(r.Context(), w, "signup", err)
		return
	}

	writeSuccess(w, http.StatusCreated, userResponse{
		ID:             user.ID,
		Email:          user.Identity,
		IsVerified:     user.IsVerified,
		DetailComplete: user.DetailComplete,
		CreatedAt:      user.CreatedAt.UTC(),
	})
}

func (h *Handler) requestOtp(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, "otp_request", &req) {
		return
	}

	if err := h.engine.RequestOtp(r.Context(), req.Email); err != nil {
		h.fail(r.Context(), w, "otp_request", err)
		return
	}
	writeMessage(w, http.StatusOK, "otp sent")
}

func (h *Handler) verifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if !h.decode(w, r, "otp_verify", &req) {
		return
	}

	tok, err := h.engine.VerifyOtp(r.Context(), req.Email, req.Otp)
	if err != nil {
		h.fail(r.Context(), w, "otp_verify", err)
		return
	}

	middleware.SetSessionCookie(w, h.cookie, tok)
	writeSuccess(w, http.StatusOK, newSessionResponse(tok.Session))
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !h.decode(w, r, "sign_in", &req) {
		return
	}

	tok, err := h.engine.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(r.Context(), w, "sign_in", err)
		return
	}

	middleware.SetSessionCookie(w, h.cookie, tok)
	writeSuccess(w, http.StatusOK, newSessionResponse(tok.Session))
}

func (h *Handler) createPassword(w http.ResponseWriter, r *http.Request) {
	info, ok := otpauth.SessionFromContext(r.Context())
	if !ok {
		h.fail(r.Context(), w, "password_create", otpauth.ErrSessionInvalid)
		return
	}

	var req createPasswordRequest
	if !h.decode(w, r, "password_create", &req) {
		return
	}

	tok, err := h.engine.CreatePassword(r.Context(), info, req.Password)
	if err != nil {
		h.fail(r.Context(), w, "password_create", err)
		return
	}

	middleware.SetSessionCookie(w, h.cookie, tok)
	writeSuccess(w, http.StatusOK, newSessionResponse(tok.Session))
}

// logout always clears the cookie; a missing or stale token is not an error.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromRequest(r, h.cookie)
	middleware.ClearSessionCookie(w, h.cookie)
	if ok {
		if err := h.engine.DestroySession(r.Context(), token); err != nil {
			h.fail(r.Context(), w, "logout", err)
			return
		}
	}
	writeMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	info, ok := otpauth.SessionFromContext(r.Context())
	if !ok {
		h.fail(r.Context(), w, "me", otpauth.ErrSessionInvalid)
		return
	}
	writeSuccess(w, http.StatusOK, newSessionResponse(info))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, operation string, dst any) bool {
	if err := decodeBody(w, r, dst); err != nil {
		h.fail(r.Context(), w, operation, fmt.Errorf("%w: %v", otpauth.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	kind := otpauth.KindOf(err)
	fields := []any{
		"operation", operation,
		"kind", kind.String(),
		"error", err,
		"request_id", requestIDFromContext(ctx),
	}
	if kind == otpauth.KindStorageFailure || kind == otpauth.KindUnknown {
		h.log.ErrorContext(ctx, "request failed", fields...)
	} else {
		h.log.DebugContext(ctx, "request rejected", fields...)
	}
	writeError(w, err)
}

func (h *Handler) writeGuardError(w http.ResponseWriter, r *http.Request, err error) {
	h.fail(r.Context(), w, "session_guard", err)
}
