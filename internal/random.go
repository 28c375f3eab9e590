package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// SessionID is a 128-bit random session identifier.
type SessionID [16]byte

// NewSessionID draws a session id from crypto/rand.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID decodes the base64url form produced by String.
func ParseSessionID(raw string) (SessionID, error) {
	var sid SessionID

	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return sid, err
	}
	if len(b) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], b)
	return sid, nil
}

// NewOTP returns a uniformly random numeric code of the given length. Each
// digit is drawn independently, so leading zeros are kept.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// IsNumericCode reports whether code has exactly digits ASCII digits.
func IsNumericCode(code string, digits int) bool {
	if len(code) != digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
