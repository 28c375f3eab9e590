package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a session is missing or past its absolute lifetime.
var ErrNotFound = errors.New("session not found")

const minIdleTTL = time.Second

// PTTL reply for a key that no longer exists.
const pttlMissing = time.Duration(-2)

// Store is a Redis-backed session store with an idle window and an
// absolute lifetime cap.
//
// Every session is a single key, <prefix>:<sessionID>. With rolling renewal
// enabled, each successful Get pushes the key TTL out to a full idle window,
// never past Session.ExpiresAt.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	idleTTL time.Duration
	rolling bool
	now     func() time.Time
}

// NewStore creates a session [Store] backed by the given Redis client.
func NewStore(rdb redis.UniversalClient, prefix string, idleTTL time.Duration, rolling bool) *Store {
	return &Store{
		redis:   rdb,
		prefix:  prefix,
		idleTTL: idleTTL,
		rolling: rolling,
		now:     time.Now,
	}
}

// WithClock replaces the time source used for lifetime and TTL math.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

// TTLFor returns the key TTL a session gets when saved or renewed at now.
func (s *Store) TTLFor(sess *Session, now time.Time) time.Duration {
	remaining := time.Unix(sess.ExpiresAt, 0).Sub(now)
	if s.idleTTL > 0 && s.idleTTL < remaining {
		return s.idleTTL
	}
	return remaining
}

// Save writes sess with a TTL of one idle window, capped by ExpiresAt.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	ttl := s.TTLFor(sess, s.now())
	if ttl <= 0 {
		return errors.New("session: already past absolute lifetime")
	}

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(sess.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a session and returns the key TTL left after the call. With
// rolling renewal the idle window is extended first; otherwise the TTL is
// read back from Redis unchanged. A session past its absolute lifetime is
// deleted and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, time.Duration, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}

	capped := s.TTLFor(sess, s.now())
	if capped <= 0 {
		if err := s.Delete(ctx, sessionID); err != nil {
			return nil, 0, err
		}
		return nil, 0, ErrNotFound
	}

	if s.rolling {
		if capped < minIdleTTL {
			capped = minIdleTTL
		}
		if err := s.redis.Expire(ctx, s.key(sessionID), capped).Err(); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return sess, capped, nil
	}

	ttl, err := s.redis.PTTL(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch {
	case ttl == pttlMissing:
		return nil, 0, ErrNotFound
	case ttl < 0 || ttl > capped:
		ttl = capped
	}
	return sess, ttl, nil
}

// GetReadOnly loads a session without touching its TTL.
func (s *Store) GetReadOnly(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() >= sess.ExpiresAt {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Store) load(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID
	return sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
