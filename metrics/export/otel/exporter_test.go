package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/otpauth"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot otpauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() otpauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := otpauth.MetricsSnapshot{
		Counters:   make(map[otpauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[otpauth.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func int64Value(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				return data.DataPoints[0].Value
			case metricdata.Gauge[int64]:
				return data.DataPoints[0].Value
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("otpauth-test")

	src := &fakeSource{
		snapshot: otpauth.MetricsSnapshot{
			Counters: map[otpauth.MetricID]uint64{
				otpauth.MetricOtpRequested: 3,
				otpauth.MetricSweepRemoved: 5,
			},
			Histograms: map[otpauth.MetricID][]uint64{
				otpauth.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	if got := int64Value(t, rm, "otpauth_otp_requested_total"); got != 3 {
		t.Fatalf("otp requested: got %d", got)
	}
	if got := int64Value(t, rm, "otpauth_sweep_removed_total"); got != 5 {
		t.Fatalf("sweep removed: got %d", got)
	}
	if got := int64Value(t, rm, "otpauth_otp_verify_latency_seconds_bucket_le_inf"); got != 8 {
		t.Fatalf("+Inf bucket: got %d", got)
	}
	if got := int64Value(t, rm, "otpauth_audit_dropped_total"); got != 1 {
		t.Fatalf("audit dropped: got %d", got)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newMeter()

	if _, err := NewOTelExporterFromSource(provider.Meter("otpauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("otpauth-test")

	src := &fakeSource{
		snapshot: otpauth.MetricsSnapshot{
			Counters: map[otpauth.MetricID]uint64{
				otpauth.MetricOtpVerifySuccess: 1,
			},
			Histograms: map[otpauth.MetricID][]uint64{
				otpauth.MetricVerifyLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[otpauth.MetricOtpVerifySuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
