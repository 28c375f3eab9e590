package otpauth

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/MrEthical07/otpauth/cache"
)

func TestSweepOnceRemovesExpiredMarkerAndRecord(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "a@x.com")
	h.requestOtp(t, "a@x.com")

	h.advance(5*time.Minute + time.Second)
	stats := h.engine.Sweeper().SweepOnce(context.Background())

	if stats.Scanned != 1 || stats.Removed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if h.hasOtp(t, "a@x.com") || len(h.markerKeys()) != 0 {
		t.Fatal("expired record and marker must both be removed in one cycle")
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricSweepRemoved]; got != 1 {
		t.Fatalf("expected sweep removed metric 1, got %d", got)
	}
}

func TestSweepOnceRemovesRecordAfterCacheClockAdvances(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "a@x.com")
	h.requestOtp(t, "a@x.com")

	// First tick after logical expiry, with the cache clock moving too.
	step := 5*time.Minute + h.engine.config.Sweeper.Interval
	h.advance(step)
	h.mr.FastForward(step)

	stats := h.engine.Sweeper().SweepOnce(context.Background())
	if stats.Scanned != 1 || stats.Removed != 1 {
		t.Fatalf("marker must still be visible one interval past expiry, got %+v", stats)
	}
	if h.hasOtp(t, "a@x.com") {
		t.Fatal("expired record must be removed from the durable store")
	}
}

func TestSweepOnceIgnoresUnexpiredMarker(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "a@x.com")
	code := h.requestOtp(t, "a@x.com")

	h.advance(5 * time.Minute)
	stats := h.engine.Sweeper().SweepOnce(context.Background())
	if stats.Pending != 1 || stats.Removed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !h.hasOtp(t, "a@x.com") || len(h.markerKeys()) != 1 {
		t.Fatal("sweeper must not touch a marker before expiresAt passes")
	}
	if _, err := h.engine.VerifyOtp(context.Background(), "a@x.com", code); err != nil {
		t.Fatalf("code must still verify at exactly its expiry: %v", err)
	}
}

func TestSweepOnceTreatsMissingRecordAsSwept(t *testing.T) {
	h := newHarness(t)
	past := h.clock().Add(-time.Minute).UnixMilli()
	h.mr.Set("otp:gone", `{"expiresAt":`+strconv.FormatInt(past, 10)+`,"otpRecordId":"gone"}`)

	stats := h.engine.Sweeper().SweepOnce(context.Background())
	if stats.Removed != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if h.mr.Exists("otp:gone") {
		t.Fatal("orphaned marker must be deleted")
	}
}

func TestSweepOnceSkipsMalformedAndContinues(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "a@x.com")
	h.requestOtp(t, "a@x.com")
	otp := h.otpFor(t, "a@x.com")

	h.mr.Set("otp:garbage", "not json")
	h.mr.Set("otp:mismatch", `{"expiresAt":1,"otpRecordId":"`+otp.ID+`"}`)
	h.mr.Set("otp:legacy", `{"expiresAt":1,"id":"legacy"}`)

	h.advance(6 * time.Minute)
	stats := h.engine.Sweeper().SweepOnce(context.Background())

	if stats.Scanned != 4 || stats.Malformed != 2 || stats.Removed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !h.mr.Exists("otp:garbage") || !h.mr.Exists("otp:mismatch") {
		t.Fatal("malformed markers are left for cache eviction")
	}
	if h.mr.Exists("otp:legacy") || h.hasOtp(t, "a@x.com") {
		t.Fatal("valid expired markers must still be reconciled")
	}
}

func TestSweepOnceRecordFailureKeepsMarker(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "a@x.com")
	h.requestOtp(t, "a@x.com")

	h.engine.records = &failingTxStore{Store: h.records, err: errors.New("db down")}
	h.advance(6 * time.Minute)

	stats := h.engine.Sweeper().SweepOnce(context.Background())
	if stats.Failed != 1 || stats.Removed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(h.markerKeys()) != 1 {
		t.Fatal("marker must survive a failed record delete so the next cycle retries")
	}

	h.engine.records = h.records
	if stats := h.engine.Sweeper().SweepOnce(context.Background()); stats.Removed != 1 {
		t.Fatalf("retry cycle must reconcile, got %+v", stats)
	}
}

func TestSweepOnceListingFailure(t *testing.T) {
	h := newHarness(t, func(_ *Config, b *Builder) {
		b.WithCache(&faultyCache{listErr: errors.New("scan failed")})
	})
	stats := h.engine.Sweeper().SweepOnce(context.Background())
	if stats.Failed != 1 || stats.Scanned != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Builder) {
		cfg.Sweeper.Interval = 10 * time.Millisecond
	})
	h.signUp(t, "a@x.com")
	h.requestOtp(t, "a@x.com")
	h.advance(6 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Sweeper().Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.hasOtp(t, "a@x.com") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("sweeper did not reconcile within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSweeperAgainstRedisCacheSkipsOtherPrefixes(t *testing.T) {
	h := newHarness(t)
	if _, ok := h.engine.cache.(*cache.Redis); !ok {
		t.Skip("requires redis cache")
	}
	h.mr.Set("otpx", `{"expiresAt":1,"otpRecordId":"x"}`)
	h.mr.Set("sess:abc", "blob")

	stats := h.engine.Sweeper().SweepOnce(context.Background())
	if stats.Scanned != 0 {
		t.Fatalf("only marker keys may be scanned, got %+v", stats)
	}
}
