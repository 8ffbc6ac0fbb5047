package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/sakif/envir-social/internal/apperror"
	"github.com/sakif/envir-social/internal/model"
	"github.com/sakif/envir-social/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the identity store. Get one from DB.Users().
type UserDB struct {
	db *DB
}

const selectUser = `SELECT id, email, nickname, avatar_path, created_at FROM users`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one users row into a typed struct.
// NULL email/avatar_path scan into nil pointers.
func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.Nickname, &u.AvatarPath, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// findOne runs a single-row users query and maps sql.ErrNoRows to notFound.
func (u *UserDB) findOne(ctx context.Context, q queryer, notFound *apperror.AppError, query string, args ...any) (*model.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, apperror.Storage("reading user", err)
	}
	return user, nil
}

// queryer is the read side shared by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FindByEmail returns the user with exactly this email (case-sensitive).
// An empty email never matches: "no email" is stored as NULL, not ''.
func (u *UserDB) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == "" {
		return nil, apperror.NotFoundBy("user", "email", email)
	}
	return u.findOne(ctx, u.db.conn, apperror.NotFoundBy("user", "email", email),
		selectUser+` WHERE email = ?`, email)
}

// FindByNickname returns the user with this exact nickname.
//
// nickname has no UNIQUE constraint, so several rows can match. The oldest
// (lowest id) always wins, which keeps the answer stable across calls.
func (u *UserDB) FindByNickname(ctx context.Context, nickname string) (*model.User, error) {
	return u.findOne(ctx, u.db.conn, apperror.NotFoundBy("user", "nickname", nickname),
		selectUser+` WHERE nickname = ? ORDER BY id ASC LIMIT 1`, nickname)
}

// FindByID returns the user with this id.
func (u *UserDB) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return u.findOne(ctx, u.db.conn, apperror.NotFound("user", id),
		selectUser+` WHERE id = ?`, id)
}

// Create inserts a user and returns the stored row, id and created_at included.
//
// UNIQUENESS:
// There is deliberately no "SELECT ... WHERE email = ?" before the INSERT.
// Two requests could both pass such a check. The UNIQUE index on email is
// what decides; when it rejects the insert we report apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, in model.NewUser) (*model.User, error) {
	var created *model.User

	err := u.db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (email, nickname, avatar_path, created_at) VALUES (?, ?, ?, ?)`,
			nullable(in.Email),
			in.Nickname,
			nullable(in.AvatarPath),
			u.db.now(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("user", "email", derefOr(in.Email, ""))
			}
			return apperror.Storage("inserting user", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return apperror.Storage("reading new user id", err)
		}

		created, err = u.findOne(ctx, tx, apperror.NotFound("user", id), selectUser+` WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Rename sets a new nickname. created_at and email are untouched.
func (u *UserDB) Rename(ctx context.Context, id int64, nickname string) error {
	return u.updateOne(ctx, id, "renaming user",
		`UPDATE users SET nickname = ? WHERE id = ?`, nickname, id)
}

// AttachAvatar records where the user's processed avatar was stored.
func (u *UserDB) AttachAvatar(ctx context.Context, id int64, avatarPath string) error {
	return u.updateOne(ctx, id, "attaching avatar",
		`UPDATE users SET avatar_path = ? WHERE id = ?`, avatarPath, id)
}

// updateOne runs an UPDATE that must touch exactly one row.
func (u *UserDB) updateOne(ctx context.Context, id int64, op, query string, args ...any) error {
	res, err := u.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return apperror.Storage(op+" "+strconv.FormatInt(id, 10), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.Storage(op+" "+strconv.FormatInt(id, 10), err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
