// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, so no C compiler is needed.
//
// CONNECTION HANDLING:
// There is no package-level handle. New returns a *DB that owns a sql.DB pool;
// every store method borrows a connection for one statement or one
// transaction and gives it back before returning.
//
// STARTUP ORDER:
// New runs EnsureSchema and then MigrateEmailNullable before it returns, so a
// caller that holds a *DB can never reach a store method on an unmigrated
// schema.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/envir-social/internal/apperror"
)

// Options configures New.
type Options struct {
	// Path is a file path or ":memory:".
	Path string
	// BusyTimeout is how long a connection waits on a locked database
	// before giving up with SQLITE_BUSY. Zero means 5s.
	BusyTimeout time.Duration
	// MaxOpenConns caps the pool. Zero leaves database/sql's default.
	MaxOpenConns int
	Logger       *zap.Logger
}

// DB wraps a sql.DB connection pool and hands out the typed stores.
type DB struct {
	conn   *sql.DB
	logger *zap.Logger

	// now stamps created_at. Tests replace it to get identical timestamps.
	now func() time.Time
}

// New opens the database, brings the schema up to date and returns the pool.
//
// A failure here is a startup failure: main must not serve traffic when New
// returns an error, because the migration may not have been applied.
func New(ctx context.Context, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := sql.Open("sqlite", dsn(opts))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.Path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := db.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ensuring schema: %w", err)
	}

	if _, err := db.MigrateEmailNullable(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: migrating users.email: %w", err)
	}

	return db, nil
}

// dsn builds the modernc connection string.
//
// PRAGMAS IN THE DSN:
// A PRAGMA run with conn.Exec only applies to whichever pooled connection
// happened to execute it. Passing them as _pragma parameters makes the
// driver apply them to every connection it opens.
//
// _txlock=immediate turns BeginTx into BEGIN IMMEDIATE: a transaction takes
// the write lock up front and waits out busy_timeout, instead of failing
// when it later tries to upgrade a read lock.
func dsn(opts Options) string {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if opts.Path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")

	return "file:" + opts.Path + "?" + q.Encode()
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the identity store backed by this pool.
func (db *DB) Users() *UserDB {
	return &UserDB{db: db}
}

// Reports returns the report store backed by this pool.
func (db *DB) Reports() *ReportDB {
	return &ReportDB{db: db}
}

// Ping reports whether the database is reachable. Used by /health.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return apperror.Storage("pinging database", err)
	}
	return nil
}

// withTx runs fn inside a transaction: commit if fn returns nil, roll back
// otherwise. fn's error is returned unchanged so apperror kinds survive.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.Storage("beginning transaction", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperror.Storage("committing transaction", err)
	}
	return nil
}

// isUniqueViolation reports whether err is SQLite's UNIQUE constraint error.
// The index is the source of truth for email uniqueness, so this is how a
// losing concurrent insert is recognised.
func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// nullable turns an empty optional string into NULL.
func nullable(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
