package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// CurrentSchemaVersion is the leading byte written by Encode.
const CurrentSchemaVersion uint8 = 1

const (
	flagVerified       uint8 = 1 << 0
	flagDetailComplete uint8 = 1 << 1

	maxIdentityBytes = 320
)

var errTruncated = errors.New("session: truncated blob")

// Encode serializes s as:
//
//	version(1) | flags(1) | identityLen(2) | identity | createdAt(8) | expiresAt(8)
//
// The session id is the Redis key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	if len(s.Identity) > maxIdentityBytes {
		return nil, errors.New("session: identity too long")
	}

	var buf bytes.Buffer
	buf.Grow(2 + 2 + len(s.Identity) + 16)

	buf.WriteByte(CurrentSchemaVersion)

	var flags uint8
	if s.IsVerified {
		flags |= flagVerified
	}
	if s.DetailComplete {
		flags |= flagDetailComplete
	}
	buf.WriteByte(flags)

	var scratch [8]byte
	binary.BigEndian.PutUint16(scratch[:2], uint16(len(s.Identity)))
	buf.Write(scratch[:2])
	buf.WriteString(s.Identity)

	binary.BigEndian.PutUint64(scratch[:], uint64(s.CreatedAt))
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], uint64(s.ExpiresAt))
	buf.Write(scratch[:])

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, errTruncated
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("session: unsupported schema version %d", version)
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, errTruncated
	}

	var idLen uint16
	if err := binary.Read(r, binary.BigEndian, &idLen); err != nil {
		return nil, errTruncated
	}
	if int(idLen) > maxIdentityBytes {
		return nil, errors.New("session: identity too long")
	}
	identity := make([]byte, idLen)
	if _, err := io.ReadFull(r, identity); err != nil {
		return nil, errTruncated
	}

	s := &Session{
		Identity:       string(identity),
		IsVerified:     flags&flagVerified != 0,
		DetailComplete: flags&flagDetailComplete != 0,
	}
	if err := binary.Read(r, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, errTruncated
	}
	if err := binary.Read(r, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, errTruncated
	}
	if r.Len() != 0 {
		return nil, errors.New("session: trailing bytes")
	}

	return s, nil
}
