// Package memory is an in-process record.Store for tests, examples and
// single-node development.
package memory

import (
	"context"
	"sync"

	"github.com/MrEthical07/otpauth/record"
)

type state struct {
	users map[string]record.User // keyed by identity
	otps  map[string]record.Otp  // keyed by id
}

func (s *state) clone() *state {
	c := &state{
		users: make(map[string]record.User, len(s.users)),
		otps:  make(map[string]record.Otp, len(s.otps)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.otps {
		c.otps[k] = v
	}
	return c
}

// Store keeps users and OTP records in maps.
//
// Transactions are serialized by a store-wide lock and run against a copy
// of the data that replaces the live state only on success.
type Store struct {
	txMu sync.Mutex // held for the duration of a Transaction

	mu   sync.RWMutex
	data *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: &state{
		users: map[string]record.User{},
		otps:  map[string]record.Otp{},
	}}
}

// Transaction implements record.Store.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx record.Ops) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &ops{data: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

// Writes outside a transaction still serialize with transactions.
func (s *Store) write(ctx context.Context, fn func(o *ops) error) error {
	return s.Transaction(ctx, func(ctx context.Context, tx record.Ops) error {
		return fn(tx.(*ops))
	})
}

func (s *Store) read() *ops {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &ops{data: s.data}
}

// FindUserByIdentity implements record.Ops.
func (s *Store) FindUserByIdentity(ctx context.Context, identity string) (*record.User, error) {
	return s.read().FindUserByIdentity(ctx, identity)
}

// LockUserByIdentity implements record.Ops. Outside a transaction it is a
// plain read.
func (s *Store) LockUserByIdentity(ctx context.Context, identity string) (*record.User, error) {
	return s.read().FindUserByIdentity(ctx, identity)
}

// FindOtpByIdentity implements record.Ops.
func (s *Store) FindOtpByIdentity(ctx context.Context, identity string) (*record.Otp, error) {
	return s.read().FindOtpByIdentity(ctx, identity)
}

// CreateUser implements record.Ops.
func (s *Store) CreateUser(ctx context.Context, u *record.User) error {
	return s.write(ctx, func(o *ops) error { return o.CreateUser(ctx, u) })
}

// UpdateUser implements record.Ops.
func (s *Store) UpdateUser(ctx context.Context, u *record.User) error {
	return s.write(ctx, func(o *ops) error { return o.UpdateUser(ctx, u) })
}

// CreateOtp implements record.Ops.
func (s *Store) CreateOtp(ctx context.Context, otp *record.Otp) error {
	return s.write(ctx, func(o *ops) error { return o.CreateOtp(ctx, otp) })
}

// DeleteOtp implements record.Ops.
func (s *Store) DeleteOtp(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.write(ctx, func(o *ops) error {
		var err error
		deleted, err = o.DeleteOtp(ctx, id)
		return err
	})
	return deleted, err
}

// OtpCount returns the number of stored OTP records.
func (s *Store) OtpCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.otps)
}

type ops struct {
	data *state
}

func (o *ops) FindUserByIdentity(_ context.Context, identity string) (*record.User, error) {
	u, ok := o.data.users[identity]
	if !ok {
		return nil, record.ErrNotFound
	}
	return &u, nil
}

func (o *ops) LockUserByIdentity(ctx context.Context, identity string) (*record.User, error) {
	return o.FindUserByIdentity(ctx, identity)
}

func (o *ops) CreateUser(_ context.Context, u *record.User) error {
	if _, ok := o.data.users[u.Identity]; ok {
		return record.ErrDuplicate
	}
	o.data.users[u.Identity] = *u
	return nil
}

func (o *ops) UpdateUser(_ context.Context, u *record.User) error {
	if _, ok := o.data.users[u.Identity]; !ok {
		return record.ErrNotFound
	}
	o.data.users[u.Identity] = *u
	return nil
}

func (o *ops) FindOtpByIdentity(_ context.Context, identity string) (*record.Otp, error) {
	for _, otp := range o.data.otps {
		if otp.Identity == identity {
			otp := otp
			return &otp, nil
		}
	}
	return nil, record.ErrNotFound
}

func (o *ops) CreateOtp(_ context.Context, otp *record.Otp) error {
	if _, ok := o.data.otps[otp.ID]; ok {
		return record.ErrDuplicate
	}
	for _, existing := range o.data.otps {
		if existing.Identity == otp.Identity {
			return record.ErrDuplicate
		}
	}
	o.data.otps[otp.ID] = *otp
	return nil
}

func (o *ops) DeleteOtp(_ context.Context, id string) (bool, error) {
	if _, ok := o.data.otps[id]; !ok {
		return false, nil
	}
	delete(o.data.otps, id)
	return true, nil
}
