package otpauth

import "context"

const (
	auditEventOtpRequest     = "otp_request"
	auditEventOtpVerify      = "otp_verify"
	auditEventOtpSweep       = "otp_sweep"
	auditEventSessionIssue   = "session_issue"
	auditEventSessionDestroy = "session_destroy"
	auditEventSignUp         = "signup"
	auditEventSignIn         = "sign_in"
	auditEventPasswordCreate = "password_create"
)

type auditRecord struct {
	identity  string
	sessionID string
	otpID     string

	rotated       bool
	recordRemoved bool
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, err error, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	ev := AuditEvent{
		Timestamp:     e.clock().UTC(),
		EventType:     eventType,
		Identity:      rec.identity,
		SessionID:     rec.sessionID,
		OtpID:         rec.otpID,
		IP:            clientIPFromContext(ctx),
		Success:       err == nil,
		Rotated:       rec.rotated,
		RecordRemoved: rec.recordRemoved,
	}
	if err != nil {
		ev.ErrorKind = KindOf(err).String()
	}

	e.audit.Emit(ctx, ev)
}
