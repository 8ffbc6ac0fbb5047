package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/model"
	"github.com/sakif/envir-social/internal/service"
)

// ReportService is what the report endpoints need.
type ReportService interface {
	Submit(ctx context.Context, in service.SubmitInput) (*model.Report, error)
	List(ctx context.Context) ([]model.Report, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Report, error)
}

// ReportHandler serves /reports and /api/users/{id}/reports.
type ReportHandler struct {
	reports ReportService
	logger  *zap.Logger
}

func NewReportHandler(reports ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

type reportForm struct {
	UserID int64 `form:"user_id" validate:"gt=0"`
}

// HandleList returns every report, newest first.
//
// HTTP: GET /reports
func (h *ReportHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.List(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, reports)
}

// HandleSubmit stores a report.
//
// HTTP: POST /reports
// BODY: multipart form: user_id, latitude, longitude, map_url, comment,
// photo file. Only the first three are required.
func (h *ReportHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	userID, err := parseInt(r.FormValue("user_id"), "user_id")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := validateStruct(reportForm{UserID: userID}); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	lat, err := parseFloat(r, "latitude")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	lng, err := parseFloat(r, "longitude")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	photo, err := formFile(r, "photo")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	rep, err := h.reports.Submit(r.Context(), service.SubmitInput{
		UserID:    userID,
		Latitude:  lat,
		Longitude: lng,
		MapURL:    optional(r, "map_url"),
		Comment:   optional(r, "comment"),
		Photo:     photo,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, rep)
}

// HandleListByUser returns one user's reports, newest first.
//
// HTTP: GET /api/users/{id}/reports
func (h *ReportHandler) HandleListByUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	reports, err := h.reports.ListByUser(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, reports)
}
