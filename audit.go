package otpauth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// AuditEvent is one security-relevant engine outcome. Codes, digests,
// passwords and tokens are never recorded.
//
// Rotated is set on otp_request when a live code was replaced.
// RecordRemoved is set on otp_sweep when the durable record still existed
// and was deleted, as opposed to an orphaned marker.
type AuditEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	Identity      string    `json:"identity,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	OtpID         string    `json:"otp_id,omitempty"`
	IP            string    `json:"ip,omitempty"`
	Success       bool      `json:"success"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	Rotated       bool      `json:"rotated,omitempty"`
	RecordRemoved bool      `json:"record_removed,omitempty"`
}

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

func (f AuditSinkFunc) Emit(ctx context.Context, event AuditEvent) {
	f(ctx, event)
}

func discardAudit(context.Context, AuditEvent) {}

// LogSink writes each event as one structured log record at Info.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{log: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", ev.EventType),
		slog.Bool("success", ev.Success),
	}
	if ev.Identity != "" {
		attrs = append(attrs, slog.String("identity", ev.Identity))
	}
	if ev.OtpID != "" {
		attrs = append(attrs, slog.String("otp_id", ev.OtpID))
	}
	if ev.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", ev.SessionID))
	}
	if ev.IP != "" {
		attrs = append(attrs, slog.String("ip", ev.IP))
	}
	if ev.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", ev.ErrorKind))
	}
	if ev.Rotated {
		attrs = append(attrs, slog.Bool("rotated", true))
	}
	if ev.RecordRemoved {
		attrs = append(attrs, slog.Bool("record_removed", true))
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// JSONWriterSink writes one JSON object per line to w.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, ev AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(ev)
}
