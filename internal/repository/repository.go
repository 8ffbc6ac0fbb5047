// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in sub-packages (repository/sqlite).
package repository

import (
	"context"

	"github.com/sakif/envir-social/internal/model"
)

// UserRepository is the identity store.
//
// Lookups that find nothing return an error wrapping apperror.ErrNotFound.
// Create returns apperror.ErrConflict when the email is already taken.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByNickname(ctx context.Context, nickname string) (*model.User, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
	Create(ctx context.Context, in model.NewUser) (*model.User, error)
	Rename(ctx context.Context, id int64, nickname string) error
	AttachAvatar(ctx context.Context, id int64, avatarPath string) error
}

// ReportRepository is the report store. Reports are create-only.
type ReportRepository interface {
	Create(ctx context.Context, in model.NewReport) (*model.Report, error)
	ListAll(ctx context.Context) ([]model.Report, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Report, error)
}
