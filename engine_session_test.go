package otpauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIssueSessionRejectsUnverified(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.IssueSession(context.Background(), "a@x.com", false, false)
	if !errors.Is(err, ErrNotVerified) || KindOf(err) != KindConflict {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
	if len(h.sessionKeys()) != 0 {
		t.Fatal("no session may be stored for an unverified identity")
	}
}

func TestIssueAndValidateSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tok, err := h.engine.IssueSession(ctx, "A@x.com", true, true)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.MaxAge != 24*time.Hour {
		t.Fatalf("expected 24h max age, got %v", tok.MaxAge)
	}
	if got := tok.Session.ExpiresAt.Sub(tok.Session.CreatedAt); got != 7*24*time.Hour {
		t.Fatalf("expected 7 day absolute lifetime, got %v", got)
	}

	got, err := h.engine.ValidateSession(ctx, tok.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Session.Identity != "a@x.com" || !got.Session.DetailComplete || got.Session.SessionID != tok.Session.SessionID {
		t.Fatalf("unexpected session info %+v", got.Session)
	}
	if got.Token != tok.Token {
		t.Fatal("validation must return the presented token")
	}
}

func TestValidateSessionRollingRenewal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tok, err := h.engine.IssueSession(ctx, "a@x.com", true, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	key := "sess:" + tok.Session.SessionID

	h.mr.FastForward(23 * time.Hour)
	if _, err := h.engine.ValidateSession(ctx, tok.Token); err != nil {
		t.Fatalf("validate within idle window: %v", err)
	}
	if ttl := h.mr.TTL(key); ttl < 23*time.Hour {
		t.Fatalf("expected idle TTL renewed, got %v", ttl)
	}

	h.mr.FastForward(24*time.Hour + time.Second)
	if _, err := h.engine.ValidateSession(ctx, tok.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected idle session to expire, got %v", err)
	}
}

func TestValidateSessionNoRollingKeepsTTL(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Builder) {
		cfg.Session.Rolling = false
	})
	ctx := context.Background()

	tok, err := h.engine.IssueSession(ctx, "a@x.com", true, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	h.mr.FastForward(time.Hour)
	got, err := h.engine.ValidateSession(ctx, tok.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	ttl := h.mr.TTL("sess:" + tok.Session.SessionID)
	if ttl > 23*time.Hour {
		t.Fatalf("expected TTL untouched, got %v", ttl)
	}
	if got.MaxAge != ttl {
		t.Fatalf("cookie max age %v must match the remaining key TTL %v", got.MaxAge, ttl)
	}
}

func TestSessionLifetimeFollowsEngineClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.advance(time.Hour)
	tok, err := h.engine.IssueSession(ctx, "a@x.com", true, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !tok.Session.CreatedAt.Equal(h.clock().Truncate(time.Second)) {
		t.Fatalf("created at %v, want engine clock %v", tok.Session.CreatedAt, h.clock())
	}

	h.advance(7*24*time.Hour + time.Second)
	if _, err := h.engine.ValidateSession(ctx, tok.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected session past its absolute lifetime to be invalid, got %v", err)
	}
}

func TestValidateSessionRejectsBadTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := h.engine.ValidateSession(ctx, token); !errors.Is(err, ErrSessionInvalid) {
			t.Fatalf("token %q: expected ErrSessionInvalid, got %v", token, err)
		}
	}

	tok, err := h.engine.IssueSession(ctx, "a@x.com", true, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	forged, err := h.engine.tokens.CreateSessionToken(tok.Session.SessionID, "b@x.com", tok.Session.ExpiresAt)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := h.engine.ValidateSession(ctx, forged); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("subject mismatch must be rejected, got %v", err)
	}
}

func TestValidateSessionStorageFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tok, err := h.engine.IssueSession(ctx, "a@x.com", true, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	h.mr.SetError("backend down")
	defer h.mr.SetError("")

	if _, err := h.engine.ValidateSession(ctx, tok.Token); KindOf(err) != KindStorageFailure {
		t.Fatalf("expected StorageFailure, got %v", err)
	}
}

func TestDestroySessionIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tok, err := h.engine.IssueSession(ctx, "a@x.com", true, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := h.engine.DestroySession(ctx, tok.Token); err != nil {
			t.Fatalf("destroy #%d: %v", i+1, err)
		}
	}
	if err := h.engine.DestroySession(ctx, "not-a-token"); err != nil {
		t.Fatalf("destroying an invalid token must succeed, got %v", err)
	}
	if _, err := h.engine.ValidateSession(ctx, tok.Token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("destroyed session must not validate, got %v", err)
	}
	if len(h.sessionKeys()) != 0 {
		t.Fatal("session key must be removed")
	}
}
