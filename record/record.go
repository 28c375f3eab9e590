// Package record defines the durable records behind OTP authentication and
// the store contract the engine persists them through.
package record

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("record: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("record: duplicate")
)

// User is an account keyed by its normalized identity (an email address).
type User struct {
	ID             string
	Identity       string
	IsVerified     bool
	DetailComplete bool
	PasswordHash   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Otp is the durable half of a one-time code. Only the argon2id digest of
// the code is stored. There is at most one Otp per identity.
type Otp struct {
	ID        string
	Identity  string
	CodeHash  string
	CreatedAt time.Time
}

// Ops is the set of reads and writes available both on a Store and inside
// one of its transactions.
type Ops interface {
	FindUserByIdentity(ctx context.Context, identity string) (*User, error)
	// LockUserByIdentity reads a user and, inside a transaction on backends
	// that support it, holds a row lock until the transaction ends.
	LockUserByIdentity(ctx context.Context, identity string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error

	FindOtpByIdentity(ctx context.Context, identity string) (*Otp, error)
	CreateOtp(ctx context.Context, o *Otp) error
	// DeleteOtp reports whether a row was actually removed. Deleting a
	// missing id is (false, nil).
	DeleteOtp(ctx context.Context, id string) (bool, error)
}

// Store is a durable record store with all-or-nothing transactions.
//
// fn runs with a transactional Ops. If fn returns an error, panics, or ctx
// is cancelled before commit, none of its writes are visible.
type Store interface {
	Ops
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error
}
