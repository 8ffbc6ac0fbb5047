package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/model"
	"github.com/sakif/envir-social/internal/service"
)

// IdentityService is what the login and user endpoints need.
// *service.IdentityService satisfies it; tests pass a fake.
type IdentityService interface {
	Reconcile(ctx context.Context, in service.LoginInput) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// IdentityHandler serves /auth/* and /api/users/{id}.
type IdentityHandler struct {
	identity IdentityService
	logger   *zap.Logger
}

func NewIdentityHandler(identity IdentityService, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{identity: identity, logger: logger}
}

type loginForm struct {
	Nickname string `form:"nickname" validate:"required"`
	Email    string `form:"email"`
}

// HandleLogin resolves the caller to a user, creating or renaming it.
//
// HTTP: POST /auth/local (and /auth/google)
// BODY: multipart form: nickname, email (optional), avatar file (optional)
//
// The identity is asserted by the client, nothing here verifies it.
func (h *IdentityHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	form := loginForm{
		Nickname: strings.TrimSpace(r.FormValue("nickname")),
		Email:    strings.TrimSpace(r.FormValue("email")),
	}
	if err := validateStruct(form); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	avatar, err := formFile(r, "avatar")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	user, err := h.identity.Reconcile(r.Context(), service.LoginInput{
		Nickname: form.Nickname,
		Email:    form.Email,
		Avatar:   avatar,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, user)
}

// HandleGetUser returns one user.
//
// HTTP: GET /api/users/{id}
func (h *IdentityHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	user, err := h.identity.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, user)
}
