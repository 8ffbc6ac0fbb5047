package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/apperror"
)

// usersTableDDL is the current shape of users. %s is the table name so the
// same definition builds both the live table and the migration's shadow.
//
// email is nullable but UNIQUE: SQLite treats NULLs as distinct, so any
// number of users may have no email while a given address appears once.
const usersTableDDL = `
	CREATE TABLE IF NOT EXISTS %s (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		email       TEXT UNIQUE,
		nickname    TEXT NOT NULL,
		avatar_path TEXT,
		created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

const usersIndexDDL = `
	CREATE INDEX IF NOT EXISTS idx_users_nickname ON users(nickname, id)`

const reportsTableDDL = `
	CREATE TABLE IF NOT EXISTS reports (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER NOT NULL,
		latitude    REAL NOT NULL,
		longitude   REAL NOT NULL,
		map_url     TEXT,
		comment     TEXT,
		photo_path  TEXT,
		created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);
	DROP INDEX IF EXISTS idx_reports_created_at;
	CREATE INDEX IF NOT EXISTS idx_reports_newest ON reports(julianday(created_at), id);
	CREATE INDEX IF NOT EXISTS idx_reports_user_id ON reports(user_id)`

// userColumns is the column list copied by the migration, in order.
const userColumns = `id, email, nickname, avatar_path, created_at`

// EnsureSchema creates users and reports if they don't exist.
//
// CREATE TABLE IF NOT EXISTS is safe to run on every start. On a database
// created by an older release the users table already exists with
// email NOT NULL; this leaves it alone and MigrateEmailNullable fixes it.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf(usersTableDDL, "users")); err != nil {
		return apperror.Storage("creating users table", err)
	}
	if _, err := db.conn.ExecContext(ctx, usersIndexDDL); err != nil {
		return apperror.Storage("creating users nickname index", err)
	}
	if _, err := db.conn.ExecContext(ctx, reportsTableDDL); err != nil {
		return apperror.Storage("creating reports table", err)
	}
	return nil
}

// emailRequired reports whether users.email is declared NOT NULL.
func emailRequired(ctx context.Context, q queryer) (bool, error) {
	var notNull int
	err := q.QueryRowContext(ctx,
		`SELECT "notnull" FROM pragma_table_info('users') WHERE name = 'email'`,
	).Scan(&notNull)
	if err != nil {
		return false, fmt.Errorf("inspecting users.email: %w", err)
	}
	return notNull == 1, nil
}

// MigrateEmailNullable changes users.email from NOT NULL UNIQUE to nullable
// UNIQUE, keeping every row. It returns true when it changed the schema and
// false when email was already nullable.
//
// COPY-AND-SWAP:
// SQLite cannot change a column's nullability with ALTER TABLE, so we build
// users_new with the wanted shape, copy the rows, drop users and rename
// users_new into its place. All of that happens in ONE transaction: a crash
// or error at any step rolls back to the untouched original table, and
// users_new never outlives the transaction.
//
// FOREIGN KEYS:
// reports.user_id references users. With foreign_keys=ON, DROP TABLE users
// would try to delete the referenced rows and fail. The pragma is a no-op
// inside a transaction, so it is switched off on a pinned connection before
// BEGIN and switched back on after COMMIT/ROLLBACK.
func (db *DB) MigrateEmailNullable(ctx context.Context) (bool, error) {
	required, err := emailRequired(ctx, db.conn)
	if err != nil {
		return false, apperror.Storage("migrating users.email", err)
	}
	if !required {
		return false, nil
	}

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return false, apperror.Storage("acquiring migration connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys=OFF`); err != nil {
		return false, apperror.Storage("disabling foreign keys", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `PRAGMA foreign_keys=ON`); err != nil {
			db.logger.Error("re-enabling foreign keys after migration", zap.Error(err))
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apperror.Storage("beginning migration", err)
	}

	copied, swapped, err := swapUsersTable(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return false, apperror.Storage("migrating users.email", err)
	}
	if !swapped {
		_ = tx.Rollback()
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, apperror.Storage("committing migration", err)
	}

	db.logger.Info("copy-and-swap migration applied",
		zap.String("table", "users"),
		zap.Int64("rows", copied),
	)
	return true, nil
}

// swapUsersTable does the copy-and-swap inside tx and returns the row count.
// swapped is false when there was nothing to do.
func swapUsersTable(ctx context.Context, tx *sql.Tx) (copied int64, swapped bool, err error) {
	// Re-check under the write lock: another process may have migrated
	// between our first look and BEGIN IMMEDIATE.
	required, err := emailRequired(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	if !required {
		return 0, false, nil
	}

	var before int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&before); err != nil {
		return 0, false, fmt.Errorf("counting users: %w", err)
	}

	orphansBefore, err := foreignKeyViolations(ctx, tx)
	if err != nil {
		return 0, false, err
	}

	var seq sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM sqlite_sequence WHERE name = 'users'`,
	).Scan(&seq)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("reading users sequence: %w", err)
	}

	steps := []struct {
		what string
		sql  string
	}{
		{"dropping stale users_new", `DROP TABLE IF EXISTS users_new`},
		{"creating users_new", fmt.Sprintf(usersTableDDL, "users_new")},
		{"copying users", `INSERT INTO users_new (` + userColumns + `) SELECT ` + userColumns + ` FROM users`},
		{"dropping users", `DROP TABLE users`},
		{"renaming users_new", `ALTER TABLE users_new RENAME TO users`},
		{"recreating users index", usersIndexDDL},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.sql); err != nil {
			return 0, false, fmt.Errorf("%s: %w", step.what, err)
		}
	}

	var after int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&after); err != nil {
		return 0, false, fmt.Errorf("counting migrated users: %w", err)
	}
	if after != before {
		return 0, false, fmt.Errorf("copied %d of %d users", after, before)
	}

	orphansAfter, err := foreignKeyViolations(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	if orphansAfter > orphansBefore {
		return 0, false, fmt.Errorf("swap left %d dangling references, had %d", orphansAfter, orphansBefore)
	}

	// ids are never reused: carry the old AUTOINCREMENT high-water mark over,
	// it can be above MAX(id) if rows were ever removed by hand.
	if seq.Valid {
		res, err := tx.ExecContext(ctx,
			`UPDATE sqlite_sequence SET seq = MAX(seq, ?) WHERE name = 'users'`, seq.Int64)
		if err != nil {
			return 0, false, fmt.Errorf("restoring users sequence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sqlite_sequence (name, seq) VALUES ('users', ?)`, seq.Int64); err != nil {
				return 0, false, fmt.Errorf("restoring users sequence: %w", err)
			}
		}
	}

	return after, true, nil
}

// foreignKeyViolations counts the rows PRAGMA foreign_key_check reports.
// A legacy file may already hold orphans (it was written with foreign_keys
// off), so the swap compares before and after instead of demanding zero.
func foreignKeyViolations(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return 0, fmt.Errorf("checking foreign keys: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("checking foreign keys: %w", err)
	}
	return n, nil
}
