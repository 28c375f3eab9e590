package otpauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/otpauth/internal"
	"github.com/MrEthical07/otpauth/session"
)

// IssueSession creates a server-side session for a verified identity and
// returns its signed token. Unverified identities are rejected with
// ErrNotVerified; no session ever exists for them.
func (e *Engine) IssueSession(ctx context.Context, identity string, isVerified, detailComplete bool) (*SessionToken, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	identity = normalizeIdentity(identity)
	if !isVerified {
		e.emitAudit(ctx, auditEventSessionIssue, ErrNotVerified, auditRecord{identity: identity})
		return nil, ErrNotVerified
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, storageFailure(err)
	}

	now := e.clock()
	sess := &session.Session{
		SessionID:      sid.String(),
		Identity:       identity,
		IsVerified:     true,
		DetailComplete: detailComplete,
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(e.config.Session.AbsoluteLifetime).Unix(),
	}

	if err := e.sessions.Save(ctx, sess); err != nil {
		err = storageFailure(err)
		e.emitAudit(ctx, auditEventSessionIssue, err, auditRecord{identity: identity})
		return nil, err
	}

	token, err := e.tokens.CreateSessionToken(sess.SessionID, identity, time.Unix(sess.ExpiresAt, 0))
	if err != nil {
		if delErr := e.sessions.Delete(ctx, sess.SessionID); delErr != nil {
			e.log.WarnContext(ctx, "unsigned session cleanup failed", "identity", identity, "error", delErr)
		}
		return nil, storageFailure(err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionIssue, nil, auditRecord{identity: identity, sessionID: sess.SessionID})

	return &SessionToken{
		Token:   token,
		Session: sessionInfo(sess),
		MaxAge:  e.sessions.TTLFor(sess, now),
	}, nil
}

// ValidateSession authenticates a session token. With rolling sessions the
// idle window is renewed, never past the absolute lifetime. The returned
// SessionToken carries the same token and the cookie lifetime to re-issue,
// which is the session key's remaining TTL.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionToken, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.ParseSessionToken(token)
	if err != nil {
		e.metricInc(MetricSessionInvalid)
		return nil, ErrSessionInvalid
	}
	if _, err := internal.ParseSessionID(claims.SID); err != nil {
		e.metricInc(MetricSessionInvalid)
		return nil, ErrSessionInvalid
	}

	sess, ttl, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, storageFailure(err)
		}
		e.metricInc(MetricSessionInvalid)
		return nil, ErrSessionInvalid
	}
	if sess.Identity != claims.Subject || !sess.IsVerified {
		e.metricInc(MetricSessionInvalid)
		return nil, ErrSessionInvalid
	}

	e.metricInc(MetricSessionValidated)
	return &SessionToken{
		Token:   token,
		Session: sessionInfo(sess),
		MaxAge:  ttl,
	}, nil
}

// DestroySession revokes the session behind token. Unparseable, expired and
// already revoked tokens are not errors.
func (e *Engine) DestroySession(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.ParseSessionToken(token)
	if err != nil {
		return nil
	}
	return e.destroySessionID(ctx, claims.SID, claims.Subject)
}

func (e *Engine) destroySessionID(ctx context.Context, sid, identity string) error {
	if err := e.sessions.Delete(ctx, sid); err != nil {
		err = storageFailure(err)
		e.emitAudit(ctx, auditEventSessionDestroy, err, auditRecord{identity: identity, sessionID: sid})
		return err
	}
	e.metricInc(MetricSessionDestroyed)
	e.emitAudit(ctx, auditEventSessionDestroy, nil, auditRecord{identity: identity, sessionID: sid})
	return nil
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		SessionID:      s.SessionID,
		Identity:       s.Identity,
		IsVerified:     s.IsVerified,
		DetailComplete: s.DetailComplete,
		CreatedAt:      time.Unix(s.CreatedAt, 0),
		ExpiresAt:      time.Unix(s.ExpiresAt, 0),
	}
}
