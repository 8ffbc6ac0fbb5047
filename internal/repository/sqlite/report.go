package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sakif/envir-social/internal/apperror"
	"github.com/sakif/envir-social/internal/model"
	"github.com/sakif/envir-social/internal/repository"
)

var _ repository.ReportRepository = (*ReportDB)(nil)

// ReportDB is the report store. Get one from DB.Reports().
type ReportDB struct {
	db *DB
}

// selectReport joins the owner's nickname at read time; reports never store it.
const selectReport = `
	SELECT r.id, r.user_id, u.nickname, r.latitude, r.longitude,
	       r.map_url, r.comment, r.photo_path, r.created_at
	FROM reports r
	JOIN users u ON u.id = r.user_id`

// newestFirst is the only list order: created_at DESC, then id DESC so two
// reports stamped in the same instant still come back in a fixed order.
//
// created_at is compared through julianday(), not as text. Rows written by
// CURRENT_TIMESTAMP look like "2024-05-01 12:00:00" while the driver writes
// "2024-05-01 12:00:00+00:00"; as strings the second always sorts later
// even when both name the same second.
const newestFirst = ` ORDER BY julianday(r.created_at) DESC, r.id DESC`

func scanReport(row rowScanner) (*model.Report, error) {
	var r model.Report
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.Nickname,
		&r.Latitude,
		&r.Longitude,
		&r.MapURL,
		&r.Comment,
		&r.PhotoPath,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create stores a report and returns it joined with the owner's nickname.
//
// REFERENTIAL INTEGRITY:
// foreign_keys is on in our DSN, but a database file can be opened by other
// tools with it off. So the owner is looked up first, in the same
// transaction as the INSERT: an unknown user_id gives apperror.ErrNotFound
// and nothing is written.
func (r *ReportDB) Create(ctx context.Context, in model.NewReport) (*model.Report, error) {
	var created *model.Report

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, in.UserID).Scan(&exists)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("user", in.UserID)
			}
			return apperror.Storage("checking report owner", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO reports (user_id, latitude, longitude, map_url, comment, photo_path, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.UserID,
			in.Latitude,
			in.Longitude,
			nullable(in.MapURL),
			nullable(in.Comment),
			nullable(in.PhotoPath),
			r.db.now(),
		)
		if err != nil {
			return apperror.Storage("inserting report", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return apperror.Storage("reading new report id", err)
		}

		created, err = scanReport(tx.QueryRowContext(ctx, selectReport+` WHERE r.id = ?`, id))
		if err != nil {
			return apperror.Storage("reading new report", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListAll returns every report, newest first.
func (r *ReportDB) ListAll(ctx context.Context) ([]model.Report, error) {
	return r.list(ctx, selectReport+newestFirst)
}

// ListByUser returns one user's reports, newest first. An unknown user
// simply has no reports.
func (r *ReportDB) ListByUser(ctx context.Context, userID int64) ([]model.Report, error) {
	return r.list(ctx, selectReport+` WHERE r.user_id = ?`+newestFirst, userID)
}

func (r *ReportDB) list(ctx context.Context, query string, args ...any) ([]model.Report, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperror.Storage("listing reports", err)
	}
	// rows MUST be closed or the connection never goes back to the pool
	defer rows.Close()

	reports := []model.Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, apperror.Storage("scanning report", err)
		}
		reports = append(reports, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Storage("iterating reports", err)
	}
	return reports, nil
}
