package otpauth

import (
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/otpauth/jwt"
	"github.com/MrEthical07/otpauth/password"
	"github.com/MrEthical07/otpauth/record"
	"github.com/MrEthical07/otpauth/session"
	"github.com/google/uuid"
)

// Engine runs the OTP and session lifecycle. Build one with New().Build().
type Engine struct {
	config    Config
	records   record.Store
	cache     ExpiryCache
	sender    CodeSender
	sessions  *session.Store
	tokens    *jwt.Manager
	passwords *password.Argon2
	codes     *password.Argon2
	audit     *auditDispatcher
	metrics   *Metrics
	log       *slog.Logger

	// now drives OTP expiry decisions; tests replace it.
	now func() time.Time
}

// Close flushes pending audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.records != nil && e.cache != nil && e.sessions != nil && e.tokens != nil
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func newRecordID() string {
	return uuid.NewString()
}

// normalizeIdentity folds an email address to its stored form.
func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
