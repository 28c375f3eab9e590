package otpauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/otpauth/record"
)

// SweepStats summarises one sweep cycle.
type SweepStats struct {
	Scanned   int // marker keys listed
	Removed   int // markers past expiry that were reconciled
	Pending   int // markers not yet expired, or gone before they were read
	Malformed int // undecodable markers, left for cache TTL eviction
	Failed    int // backend errors; the marker is retried next cycle
}

// Sweeper removes OTP records whose expiry marker has logically expired.
// It never touches a marker before its expiresAt has passed.
type Sweeper struct {
	engine       *Engine
	interval     time.Duration
	cycleTimeout time.Duration
}

// NewSweeper returns a sweeper for e using e's sweeper configuration.
func NewSweeper(e *Engine) *Sweeper {
	timeout := e.config.Sweeper.CycleTimeout
	if timeout <= 0 {
		timeout = e.config.Sweeper.Interval
	}
	return &Sweeper{
		engine:       e,
		interval:     e.config.Sweeper.Interval,
		cycleTimeout: timeout,
	}
}

// Sweeper is shorthand for NewSweeper(e).
func (e *Engine) Sweeper() *Sweeper {
	return NewSweeper(e)
}

// Run sweeps every interval until ctx is cancelled and returns ctx.Err().
// A cycle in progress is cut short by cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	if !s.engine.ready() {
		return ErrEngineNotReady
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	stats := s.SweepOnce(cctx)
	if stats.Removed > 0 || stats.Failed > 0 || stats.Malformed > 0 {
		s.engine.log.InfoContext(ctx, "otp sweep cycle",
			"scanned", stats.Scanned,
			"removed", stats.Removed,
			"malformed", stats.Malformed,
			"failed", stats.Failed)
	}
}

type sweepOutcome int

const (
	sweepPending sweepOutcome = iota
	sweepRemoved
	sweepMalformed
	sweepFailed
)

// SweepOnce runs a single cycle. Per-key failures are logged and counted
// and never stop the cycle.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepStats {
	var stats SweepStats
	e := s.engine
	e.metricInc(MetricSweepCycles)

	keys, err := e.cache.ListKeysByPrefix(ctx, e.config.OTP.MarkerPrefix)
	if err != nil {
		e.log.ErrorContext(ctx, "otp sweep listing failed", "error", err)
		e.metricInc(MetricSweepFailure)
		stats.Failed++
		return stats
	}

	now := e.clock()
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++

		switch s.sweepKey(ctx, key, now) {
		case sweepRemoved:
			stats.Removed++
		case sweepMalformed:
			stats.Malformed++
		case sweepFailed:
			stats.Failed++
		default:
			stats.Pending++
		}
	}

	e.metrics.Add(MetricSweepRemoved, uint64(stats.Removed))
	e.metrics.Add(MetricSweepMalformed, uint64(stats.Malformed))
	e.metrics.Add(MetricSweepFailure, uint64(stats.Failed))
	return stats
}

func (s *Sweeper) sweepKey(ctx context.Context, key string, now time.Time) sweepOutcome {
	e := s.engine

	data, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.log.WarnContext(ctx, "otp sweep read failed", "key", key, "error", err)
		return sweepFailed
	}
	if !ok {
		return sweepPending
	}

	marker, err := decodeExpiryMarker(data)
	if err != nil {
		e.log.WarnContext(ctx, "otp sweep skipped malformed marker", "key", key, "error", err)
		return sweepMalformed
	}
	if id, ok := markerIDFromKey(e.config.OTP.MarkerPrefix, key); !ok || id != marker.OtpRecordID {
		e.log.WarnContext(ctx, "otp sweep skipped marker with mismatched key",
			"key", key, "otp_id", marker.OtpRecordID)
		return sweepMalformed
	}
	if !marker.expired(now) {
		return sweepPending
	}

	var deleted bool
	err = e.records.Transaction(ctx, func(ctx context.Context, tx record.Ops) error {
		var err error
		deleted, err = tx.DeleteOtp(ctx, marker.OtpRecordID)
		return err
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			e.log.WarnContext(ctx, "otp sweep record delete failed",
				"key", key, "otp_id", marker.OtpRecordID, "error", err)
		}
		return sweepFailed
	}

	if err := e.cache.Delete(ctx, key); err != nil {
		e.log.WarnContext(ctx, "otp sweep marker delete failed", "key", key, "error", err)
		return sweepFailed
	}

	e.emitAudit(ctx, auditEventOtpSweep, nil, auditRecord{
		otpID:         marker.OtpRecordID,
		recordRemoved: deleted,
	})
	return sweepRemoved
}
