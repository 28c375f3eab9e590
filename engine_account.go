package otpauth

import (
	"context"
	"errors"
	"net/mail"

	"github.com/MrEthical07/otpauth/record"
)

// SignUp registers an unverified user for identity, which must be a bare
// email address. The identity is stored lower-cased.
func (e *Engine) SignUp(ctx context.Context, identity string) (*record.User, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	identity = normalizeIdentity(identity)
	if !validEmail(identity) {
		e.emitAudit(ctx, auditEventSignUp, ErrInvalidIdentity, auditRecord{})
		return nil, ErrInvalidIdentity
	}

	now := e.clock()
	user := &record.User{
		ID:        newRecordID(),
		Identity:  identity,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.records.CreateUser(ctx, user); err != nil {
		if errors.Is(err, record.ErrDuplicate) {
			e.metricInc(MetricSignUpDuplicate)
			e.emitAudit(ctx, auditEventSignUp, ErrUserExists, auditRecord{identity: identity})
			return nil, ErrUserExists
		}
		err = storageFailure(err)
		e.emitAudit(ctx, auditEventSignUp, err, auditRecord{identity: identity})
		return nil, err
	}

	e.metricInc(MetricSignUpSuccess)
	e.emitAudit(ctx, auditEventSignUp, nil, auditRecord{identity: identity})
	return user, nil
}

func validEmail(identity string) bool {
	if identity == "" || len(identity) > 320 {
		return false
	}
	addr, err := mail.ParseAddress(identity)
	return err == nil && addr.Address == identity
}

// SignIn authenticates a verified user by password and issues a session.
// Unknown users, users without a password and wrong passwords all yield
// ErrInvalidCredentials.
func (e *Engine) SignIn(ctx context.Context, identity, password string) (*SessionToken, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	identity = normalizeIdentity(identity)

	user, err := e.checkPassword(ctx, identity, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrNotVerified) {
			e.metricInc(MetricSignInFailure)
		}
		e.emitAudit(ctx, auditEventSignIn, err, auditRecord{identity: identity})
		return nil, err
	}

	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignIn, nil, auditRecord{identity: identity})
	return e.IssueSession(ctx, user.Identity, user.IsVerified, user.DetailComplete)
}

func (e *Engine) checkPassword(ctx context.Context, identity, password string) (*record.User, error) {
	user, err := e.records.FindUserByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storageFailure(err)
	}
	if user.PasswordHash == "" || len(password) > e.config.Password.MaxLength {
		return nil, ErrInvalidCredentials
	}

	ok, err := e.passwords.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, storageFailure(err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsVerified {
		return nil, ErrNotVerified
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, password)
	}
	return user, nil
}

// upgradePasswordHash rehashes with current parameters. Failure only logs;
// the old digest keeps working.
func (e *Engine) upgradePasswordHash(ctx context.Context, user *record.User, password string) {
	stale, err := e.passwords.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	digest, err := e.passwords.Hash(password)
	if err != nil {
		e.log.WarnContext(ctx, "password rehash failed", "identity", user.Identity, "error", err)
		return
	}

	updated := *user
	updated.PasswordHash = digest
	updated.UpdatedAt = e.clock()
	if err := e.records.UpdateUser(ctx, &updated); err != nil {
		e.log.WarnContext(ctx, "password rehash not stored", "identity", user.Identity, "error", err)
		return
	}
	*user = updated
}

// CreatePassword sets the password for the session's user, marks the
// profile complete and rotates the session. info normally comes from
// SessionFromContext.
func (e *Engine) CreatePassword(ctx context.Context, info SessionInfo, password string) (*SessionToken, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if info.SessionID == "" || !info.IsVerified {
		return nil, ErrSessionInvalid
	}
	if len(password) < e.config.Password.MinLength || len(password) > e.config.Password.MaxLength {
		e.emitAudit(ctx, auditEventPasswordCreate, ErrPasswordPolicy, auditRecord{identity: info.Identity})
		return nil, ErrPasswordPolicy
	}

	digest, err := e.passwords.Hash(password)
	if err != nil {
		return nil, storageFailure(err)
	}

	var user *record.User
	err = e.records.Transaction(ctx, func(ctx context.Context, tx record.Ops) error {
		u, err := tx.LockUserByIdentity(ctx, info.Identity)
		if err != nil {
			return err
		}
		u.PasswordHash = digest
		u.DetailComplete = true
		u.UpdatedAt = e.clock()
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			err = ErrUserNotFound
		} else {
			err = storageFailure(err)
		}
		e.emitAudit(ctx, auditEventPasswordCreate, err, auditRecord{identity: info.Identity, sessionID: info.SessionID})
		return nil, err
	}

	e.metricInc(MetricPasswordCreated)
	e.emitAudit(ctx, auditEventPasswordCreate, nil, auditRecord{identity: user.Identity, sessionID: info.SessionID})

	if err := e.destroySessionID(ctx, info.SessionID, user.Identity); err != nil {
		return nil, err
	}
	return e.IssueSession(ctx, user.Identity, user.IsVerified, user.DetailComplete)
}
