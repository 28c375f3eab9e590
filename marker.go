package otpauth

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var errMalformedMarker = errors.New("malformed expiry marker")

// expiryMarker is the cache half of an OTP. The JSON field names are shared
// with every process that sweeps the same cache.
type expiryMarker struct {
	ExpiresAt   int64  `json:"expiresAt"`
	OtpRecordID string `json:"otpRecordId"`
}

// wireMarker accepts the legacy "id" field alongside "otpRecordId".
type wireMarker struct {
	ExpiresAt   *int64 `json:"expiresAt"`
	OtpRecordID string `json:"otpRecordId"`
	LegacyID    string `json:"id"`
}

func newExpiryMarker(otpID string, expiresAt time.Time) expiryMarker {
	return expiryMarker{ExpiresAt: expiresAt.UnixMilli(), OtpRecordID: otpID}
}

func (m expiryMarker) encode() ([]byte, error) {
	return json.Marshal(m)
}

// expired reports whether now is strictly past the logical expiry.
func (m expiryMarker) expired(now time.Time) bool {
	return now.UnixMilli() > m.ExpiresAt
}

func decodeExpiryMarker(data []byte) (expiryMarker, error) {
	var w wireMarker
	if err := json.Unmarshal(data, &w); err != nil {
		return expiryMarker{}, errMalformedMarker
	}
	if w.ExpiresAt == nil {
		return expiryMarker{}, errMalformedMarker
	}

	id := w.OtpRecordID
	if id == "" {
		id = w.LegacyID
	}
	if id == "" {
		return expiryMarker{}, errMalformedMarker
	}

	return expiryMarker{ExpiresAt: *w.ExpiresAt, OtpRecordID: id}, nil
}

func markerKey(prefix, otpID string) string {
	return prefix + otpID
}

// markerIDFromKey returns the record id a key was written for.
func markerIDFromKey(prefix, key string) (string, bool) {
	id, ok := strings.CutPrefix(key, prefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
