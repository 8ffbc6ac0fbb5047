package service

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/apperror"
	"github.com/sakif/envir-social/internal/comment"
	"github.com/sakif/envir-social/internal/media"
	"github.com/sakif/envir-social/internal/model"
	"github.com/sakif/envir-social/internal/repository"
)

// SubmitInput is what the report endpoint hands to Submit.
type SubmitInput struct {
	UserID    int64
	Latitude  float64
	Longitude float64
	MapURL    *string
	Comment   *string // raw, normalized here
	Photo     []byte  // nil means no photo
}

// ReportService validates and stores reports.
type ReportService struct {
	users   repository.UserRepository
	reports repository.ReportRepository
	images  media.Processor
	logger  *zap.Logger

	// validateBounds rejects coordinates outside ±90/±180.
	validateBounds bool
}

func NewReportService(
	users repository.UserRepository,
	reports repository.ReportRepository,
	images media.Processor,
	validateBounds bool,
	logger *zap.Logger,
) *ReportService {
	return &ReportService{
		users:          users,
		reports:        reports,
		images:         images,
		logger:         logger,
		validateBounds: validateBounds,
	}
}

// Submit stores a new report for an existing user.
//
// The owner is checked before the photo is processed so an unknown user_id
// never leaves an orphan file behind. The store checks again inside its
// own transaction.
func (s *ReportService) Submit(ctx context.Context, in SubmitInput) (*model.Report, error) {
	if err := s.checkCoordinates(in.Latitude, in.Longitude); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByID(ctx, in.UserID); err != nil {
		return nil, fmt.Errorf("service/report: checking owner: %w", err)
	}

	text := comment.Normalize(in.Comment)
	if comment.Lines(text) > comment.MaxLines {
		return nil, apperror.ValidationFailed("comment", "comment must have at most two lines")
	}

	var photoPath *string
	if len(in.Photo) > 0 {
		path, err := s.images.SaveReportPhoto(ctx, in.Photo, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("service/report: storing photo: %w", err)
		}
		photoPath = &path
	}

	rep, err := s.reports.Create(ctx, model.NewReport{
		UserID:    in.UserID,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		MapURL:    in.MapURL,
		Comment:   text,
		PhotoPath: photoPath,
	})
	if err != nil {
		return nil, fmt.Errorf("service/report: creating report: %w", err)
	}

	s.logger.Info("report submitted",
		zap.Int64("reportID", rep.ID),
		zap.Int64("userID", rep.UserID),
		zap.Bool("hasPhoto", rep.PhotoPath != nil),
	)
	return rep, nil
}

func (s *ReportService) checkCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) {
		return apperror.ValidationFailed("latitude", "latitude must be a finite number")
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) {
		return apperror.ValidationFailed("longitude", "longitude must be a finite number")
	}
	if !s.validateBounds {
		return nil
	}
	if lat < -90 || lat > 90 {
		return apperror.ValidationFailed("latitude", "latitude must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return apperror.ValidationFailed("longitude", "longitude must be between -180 and 180")
	}
	return nil
}

// List returns every report, newest first.
func (s *ReportService) List(ctx context.Context) ([]model.Report, error) {
	reports, err := s.reports.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/report: listing: %w", err)
	}
	return reports, nil
}

// ListByUser returns one user's reports, newest first. Unknown users are
// ErrNotFound rather than an empty list.
func (s *ReportService) ListByUser(ctx context.Context, userID int64) ([]model.Report, error) {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("service/report: checking owner: %w", err)
	}
	reports, err := s.reports.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/report: listing user %d: %w", userID, err)
	}
	return reports, nil
}
