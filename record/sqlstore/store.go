// Package sqlstore implements record.Store on database/sql for PostgreSQL
// (pgx) and SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/otpauth/internal/dbx"
	"github.com/MrEthical07/otpauth/record"
	"github.com/MrEthical07/otpauth/record/sqlstore/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects SQL flavor and driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// Store is a SQL-backed record.Store.
//
// On PostgreSQL, LockUserByIdentity inside a transaction takes a
// SELECT ... FOR UPDATE row lock, so concurrent OTP requests for one
// identity serialize on the user row. SQLite serializes writers itself.
type Store struct {
	db      *sql.DB
	dialect Dialect
	ops
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}
	return &Store{db: db, dialect: dialect, ops: ops{db: db, dialect: dialect}}, nil
}

// Open opens dsn with the dialect's driver and pings it.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(s.dialect.gooseDialect()); err != nil {
		return err
	}
	return gooseUpContext(ctx, s.db, ".")
}

// Transaction implements record.Store.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx record.Ops) error) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &ops{db: tx, dialect: s.dialect, inTx: true})
	})
}

type ops struct {
	db      dbx.DBTX
	dialect Dialect
	inTx    bool
}

// q rewrites ? placeholders to $n for PostgreSQL.
func (o *ops) q(query string) string {
	if o.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const userColumns = `id, identity, is_verified, detail_complete, password_hash, created_at, updated_at`

// FindUserByIdentity implements record.Ops.
func (o *ops) FindUserByIdentity(ctx context.Context, identity string) (*record.User, error) {
	return o.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE identity = ?`, identity)
}

// LockUserByIdentity implements record.Ops. Inside a PostgreSQL transaction
// it selects FOR UPDATE; otherwise it is a plain read.
func (o *ops) LockUserByIdentity(ctx context.Context, identity string) (*record.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE identity = ?`
	if o.inTx && o.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	return o.findUser(ctx, query, identity)
}

func (o *ops) findUser(ctx context.Context, query, identity string) (*record.User, error) {
	var (
		u                record.User
		created, updated int64
	)
	err := o.db.QueryRowContext(ctx, o.q(query), identity).Scan(
		&u.ID, &u.Identity, &u.IsVerified, &u.DetailComplete, &u.PasswordHash, &created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, record.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.CreatedAt = time.UnixMilli(created)
	u.UpdatedAt = time.UnixMilli(updated)
	return &u, nil
}

// CreateUser implements record.Ops. A taken identity is
// record.ErrDuplicate.
func (o *ops) CreateUser(ctx context.Context, u *record.User) error {
	_, err := o.db.ExecContext(ctx, o.q(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Identity, u.IsVerified, u.DetailComplete, u.PasswordHash,
		u.CreatedAt.UnixMilli(), u.UpdatedAt.UnixMilli(),
	)
	return o.writeErr(err)
}

// UpdateUser implements record.Ops.
func (o *ops) UpdateUser(ctx context.Context, u *record.User) error {
	res, err := o.db.ExecContext(ctx, o.q(
		`UPDATE users SET is_verified = ?, detail_complete = ?, password_hash = ?, updated_at = ?
		 WHERE identity = ?`),
		u.IsVerified, u.DetailComplete, u.PasswordHash, u.UpdatedAt.UnixMilli(), u.Identity,
	)
	if err != nil {
		return o.writeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return record.ErrNotFound
	}
	return nil
}

// FindOtpByIdentity implements record.Ops.
func (o *ops) FindOtpByIdentity(ctx context.Context, identity string) (*record.Otp, error) {
	var (
		otp     record.Otp
		created int64
	)
	err := o.db.QueryRowContext(ctx, o.q(
		`SELECT id, identity, code_hash, created_at FROM otps WHERE identity = ?`), identity,
	).Scan(&otp.ID, &otp.Identity, &otp.CodeHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, record.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	otp.CreatedAt = time.UnixMilli(created)
	return &otp, nil
}

// CreateOtp implements record.Ops.
func (o *ops) CreateOtp(ctx context.Context, otp *record.Otp) error {
	_, err := o.db.ExecContext(ctx, o.q(
		`INSERT INTO otps (id, identity, code_hash, created_at) VALUES (?, ?, ?, ?)`),
		otp.ID, otp.Identity, otp.CodeHash, otp.CreatedAt.UnixMilli(),
	)
	return o.writeErr(err)
}

// DeleteOtp implements record.Ops.
func (o *ops) DeleteOtp(ctx context.Context, id string) (bool, error) {
	res, err := o.db.ExecContext(ctx, o.q(`DELETE FROM otps WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (o *ops) writeErr(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", record.ErrDuplicate, err)
	}
	return fmt.Errorf("db error: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}
