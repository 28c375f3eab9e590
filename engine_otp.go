package otpauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/otpauth/internal"
	"github.com/MrEthical07/otpauth/record"
)

// compensationTimeout bounds cleanup that must run after the caller's
// context is gone.
const compensationTimeout = 5 * time.Second

// RequestOtp issues a fresh code for identity and delivers it.
//
// Any live OTP for the identity is replaced inside the same transaction, so
// a previously delivered code stops verifying as soon as this call commits.
// On success exactly one OTP record and one expiry marker exist for the
// identity. A DeliveryFailed error leaves both in place; requesting again
// rotates them.
func (e *Engine) RequestOtp(ctx context.Context, identity string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	identity = normalizeIdentity(identity)

	otp, rotated, code, err := e.issueOtp(ctx, identity)
	if err != nil {
		e.emitAudit(ctx, auditEventOtpRequest, err, auditRecord{identity: identity})
		return err
	}
	e.metricInc(MetricOtpRequested)
	if rotated != nil {
		e.metricInc(MetricOtpRotated)
		if err := e.cache.Delete(ctx, markerKey(e.config.OTP.MarkerPrefix, rotated.ID)); err != nil {
			e.log.WarnContext(ctx, "rotated otp marker cleanup failed",
				"identity", identity, "otp_id", rotated.ID, "error", err)
		}
	}

	if err := e.writeMarker(ctx, otp); err != nil {
		e.metricInc(MetricOtpMarkerFailed)
		e.compensateOtp(ctx, otp)
		e.emitAudit(ctx, auditEventOtpRequest, err, auditRecord{identity: identity, otpID: otp.ID})
		return err
	}

	if err := e.sender.SendCode(ctx, code, identity); err != nil {
		e.metricInc(MetricOtpDeliveryFailed)
		e.log.WarnContext(ctx, "otp delivery failed", "identity", identity, "otp_id", otp.ID, "error", err)
		err = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		e.emitAudit(ctx, auditEventOtpRequest, err, auditRecord{identity: identity, otpID: otp.ID})
		return err
	}

	e.emitAudit(ctx, auditEventOtpRequest, nil, auditRecord{
		identity: identity,
		otpID:    otp.ID,
		rotated:  rotated != nil,
	})
	return nil
}

// issueOtp mints and hashes a code, then swaps it in under the user's row
// lock. It returns the new record, the replaced one (if any), and the
// plaintext code.
func (e *Engine) issueOtp(ctx context.Context, identity string) (*record.Otp, *record.Otp, string, error) {
	if _, err := e.records.FindUserByIdentity(ctx, identity); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, nil, "", ErrUserNotFound
		}
		return nil, nil, "", storageFailure(err)
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return nil, nil, "", storageFailure(err)
	}
	digest, err := e.codes.Hash(code)
	if err != nil {
		return nil, nil, "", storageFailure(err)
	}

	otp := &record.Otp{
		ID:        newRecordID(),
		Identity:  identity,
		CodeHash:  digest,
		CreatedAt: e.clock(),
	}

	var rotated *record.Otp
	err = e.records.Transaction(ctx, func(ctx context.Context, tx record.Ops) error {
		rotated = nil
		if _, err := tx.LockUserByIdentity(ctx, identity); err != nil {
			return err
		}

		existing, err := tx.FindOtpByIdentity(ctx, identity)
		switch {
		case err == nil:
			if _, err := tx.DeleteOtp(ctx, existing.ID); err != nil {
				return err
			}
			rotated = existing
		case !errors.Is(err, record.ErrNotFound):
			return err
		}

		return tx.CreateOtp(ctx, otp)
	})
	if err != nil {
		switch {
		case errors.Is(err, record.ErrNotFound):
			return nil, nil, "", ErrUserNotFound
		case errors.Is(err, record.ErrDuplicate):
			return nil, nil, "", ErrOtpConflict
		}
		return nil, nil, "", storageFailure(err)
	}

	return otp, rotated, code, nil
}

func (e *Engine) writeMarker(ctx context.Context, otp *record.Otp) error {
	marker := newExpiryMarker(otp.ID, otp.CreatedAt.Add(e.config.OTP.TTL))
	data, err := marker.encode()
	if err != nil {
		return storageFailure(err)
	}

	key := markerKey(e.config.OTP.MarkerPrefix, otp.ID)
	set, err := e.cache.SetIfAbsent(ctx, key, data, e.config.OTP.CacheTTL)
	if err != nil {
		return storageFailure(err)
	}
	if !set {
		// Record ids are fresh uuids; an existing key is left for the sweeper.
		e.log.WarnContext(ctx, "otp marker already present", "key", key, "otp_id", otp.ID)
	}
	return nil
}

// compensateOtp removes a record whose marker could not be written, so no
// record is left without its expiry.
func (e *Engine) compensateOtp(ctx context.Context, otp *record.Otp) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := e.records.DeleteOtp(cctx, otp.ID); err != nil {
		e.log.ErrorContext(ctx, "otp compensation failed; record left without marker",
			"identity", otp.Identity, "otp_id", otp.ID, "error", err)
	}
}

// errOtpRotated aborts a verification transaction that lost to a rotation.
var errOtpRotated = errors.New("otp rotated during verification")

// VerifyOtp checks code against the identity's live OTP and, on a match,
// consumes it, marks the user verified and issues a session.
//
// Expiry is decided from the record's own creation time; the cache marker
// is never consulted. If the record is replaced between the hash check and
// the consuming transaction, the newer OTP wins and the call fails with
// InvalidCode.
func (e *Engine) VerifyOtp(ctx context.Context, identity, code string) (*SessionToken, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()

	identity = normalizeIdentity(identity)

	user, otp, err := e.consumeOtp(ctx, identity, code)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCode):
			e.metricInc(MetricOtpVerifyInvalidCode)
		case errors.Is(err, ErrNotFound):
			e.metricInc(MetricOtpVerifyNotFound)
		}
		rec := auditRecord{identity: identity}
		if otp != nil {
			rec.otpID = otp.ID
		}
		e.emitAudit(ctx, auditEventOtpVerify, err, rec)
		return nil, err
	}

	e.metricInc(MetricOtpVerifySuccess)
	if err := e.cache.Delete(ctx, markerKey(e.config.OTP.MarkerPrefix, otp.ID)); err != nil {
		e.log.WarnContext(ctx, "verified otp marker cleanup failed",
			"identity", identity, "otp_id", otp.ID, "error", err)
	}
	e.emitAudit(ctx, auditEventOtpVerify, nil, auditRecord{identity: identity, otpID: otp.ID})

	return e.IssueSession(ctx, user.Identity, user.IsVerified, user.DetailComplete)
}

// consumeOtp returns the updated user and the consumed record. On failure
// the record is returned when one was found, for auditing.
func (e *Engine) consumeOtp(ctx context.Context, identity, code string) (*record.User, *record.Otp, error) {
	if _, err := e.records.FindUserByIdentity(ctx, identity); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, storageFailure(err)
	}

	otp, err := e.records.FindOtpByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, nil, ErrOtpNotFound
		}
		return nil, nil, storageFailure(err)
	}

	if e.clock().After(otp.CreatedAt.Add(e.config.OTP.TTL)) {
		e.metricInc(MetricOtpVerifyExpired)
		return nil, otp, ErrOtpNotFound
	}

	if !internal.IsNumericCode(code, e.config.OTP.Digits) {
		return nil, otp, ErrInvalidCode
	}
	ok, err := e.codes.Verify(code, otp.CodeHash)
	if err != nil {
		return nil, otp, storageFailure(err)
	}
	if !ok {
		return nil, otp, ErrInvalidCode
	}

	var user *record.User
	err = e.records.Transaction(ctx, func(ctx context.Context, tx record.Ops) error {
		u, err := tx.LockUserByIdentity(ctx, identity)
		if err != nil {
			return err
		}

		deleted, err := tx.DeleteOtp(ctx, otp.ID)
		if err != nil {
			return err
		}
		if !deleted {
			if _, err := tx.FindOtpByIdentity(ctx, identity); err == nil {
				return errOtpRotated
			} else if !errors.Is(err, record.ErrNotFound) {
				return err
			}
			return ErrOtpNotFound
		}

		u.IsVerified = true
		u.UpdatedAt = e.clock()
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errOtpRotated):
			return nil, otp, ErrInvalidCode
		case errors.Is(err, ErrOtpNotFound):
			return nil, otp, ErrOtpNotFound
		case errors.Is(err, record.ErrNotFound):
			return nil, otp, ErrUserNotFound
		}
		return nil, otp, storageFailure(err)
	}

	return user, otp, nil
}
