package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/apperror"
	"github.com/sakif/envir-social/internal/middleware"
	"github.com/sakif/envir-social/internal/model"
	"github.com/sakif/envir-social/internal/service"
)

// =========================================================================
// FAKES
// =========================================================================

type fakeIdentity struct {
	lastLogin service.LoginInput
	user      *model.User
	err       error
}

func (f *fakeIdentity) Reconcile(ctx context.Context, in service.LoginInput) (*model.User, error) {
	f.lastLogin = in
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func (f *fakeIdentity) GetUser(ctx context.Context, id int64) (*model.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, apperror.NotFound("user", id)
	}
	return f.user, nil
}

type fakeReports struct {
	lastSubmit service.SubmitInput
	report     *model.Report
	list       []model.Report
	err        error
}

func (f *fakeReports) Submit(ctx context.Context, in service.SubmitInput) (*model.Report, error) {
	f.lastSubmit = in
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

func (f *fakeReports) List(ctx context.Context) ([]model.Report, error) {
	return f.list, f.err
}

func (f *fakeReports) ListByUser(ctx context.Context, userID int64) ([]model.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []model.Report{}
	for _, r := range f.list {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

// =========================================================================
// HELPERS
// =========================================================================

func newRouter(identity IdentityService, reports ReportService) *chi.Mux {
	logger := zap.NewNop()
	ih := NewIdentityHandler(identity, logger)
	rh := NewReportHandler(reports, logger)

	r := chi.NewRouter()
	r.Post("/auth/local", ih.HandleLogin)
	r.Get("/api/users/{id}", ih.HandleGetUser)
	r.Get("/api/users/{id}/reports", rh.HandleListByUser)
	r.Get("/reports", rh.HandleList)
	r.Post("/reports", rh.HandleSubmit)
	return r
}

// multipartBody builds a form; files maps field name to content.
func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for k, data := range files {
		fw, err := mw.CreateFormFile(k, k+".jpg")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// =========================================================================
// LOGIN
// =========================================================================

func TestHandleLogin_Multipart(t *testing.T) {
	email := "bob@example.com"
	identity := &fakeIdentity{user: &model.User{ID: 2, Email: &email, Nickname: "Bob", CreatedAt: time.Now()}}
	r := newRouter(identity, &fakeReports{})

	body, ct := multipartBody(t,
		map[string]string{"nickname": "  Bob ", "email": " bob@example.com "},
		map[string][]byte{"avatar": []byte("img")},
	)
	req := httptest.NewRequest(http.MethodPost, "/auth/local", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, r, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Bob", identity.lastLogin.Nickname)
	assert.Equal(t, "bob@example.com", identity.lastLogin.Email)
	assert.Equal(t, []byte("img"), identity.lastLogin.Avatar)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(2), got["id"])
	assert.Equal(t, "bob@example.com", got["email"])
	assert.Contains(t, got, "avatar_path")
	assert.Contains(t, got, "created_at")
}

func TestHandleLogin_URLEncodedWithoutAvatar(t *testing.T) {
	identity := &fakeIdentity{user: &model.User{ID: 1, Nickname: "Anna"}}
	r := newRouter(identity, &fakeReports{})

	req := httptest.NewRequest(http.MethodPost, "/auth/local", strings.NewReader(url.Values{"nickname": {"Anna"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, r, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, identity.lastLogin.Avatar)
	assert.Empty(t, identity.lastLogin.Email)
}

func TestHandleLogin_EmptyAvatarPartIsIgnored(t *testing.T) {
	identity := &fakeIdentity{user: &model.User{ID: 1, Nickname: "Anna"}}
	r := newRouter(identity, &fakeReports{})

	body, ct := multipartBody(t, map[string]string{"nickname": "Anna"}, map[string][]byte{"avatar": {}})
	req := httptest.NewRequest(http.MethodPost, "/auth/local", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, r, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, identity.lastLogin.Avatar)
}

func TestHandleLogin_BlankNickname(t *testing.T) {
	identity := &fakeIdentity{}
	r := newRouter(identity, &fakeReports{})

	body, ct := multipartBody(t, map[string]string{"nickname": "   "}, nil)
	req := httptest.NewRequest(http.MethodPost, "/auth/local", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, r, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "validation_error", resp.Error)
	assert.Equal(t, "nickname", resp.Field)
	assert.Empty(t, identity.lastLogin.Nickname, "service must not be called")
}

func TestHandleLogin_BodyTooLarge(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.MaxBody(16))
	r.Post("/auth/local", NewIdentityHandler(&fakeIdentity{}, zap.NewNop()).HandleLogin)

	form := url.Values{"nickname": {strings.Repeat("x", 64)}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/auth/local", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, r, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// =========================================================================
// USERS
// =========================================================================

func TestHandleGetUser(t *testing.T) {
	r := newRouter(&fakeIdentity{user: &model.User{ID: 7, Nickname: "Carlo"}}, &fakeReports{})

	rec := do(t, r, httptest.NewRequest(http.MethodGet, "/api/users/7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Carlo", got.Nickname)
	assert.Nil(t, got.Email)
}

func TestHandleGetUser_Errors(t *testing.T) {
	r := newRouter(&fakeIdentity{user: &model.User{ID: 7}}, &fakeReports{})

	tests := []struct {
		path string
		want int
	}{
		{"/api/users/8", http.StatusNotFound},
		{"/api/users/abc", http.StatusBadRequest},
		{"/api/users/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, r, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// =========================================================================
// REPORTS
// =========================================================================

func TestHandleSubmit(t *testing.T) {
	reports := &fakeReports{report: &model.Report{ID: 1, UserID: 3, Nickname: "Anna", Latitude: 45.1, Longitude: 9.2}}
	r := newRouter(&fakeIdentity{}, reports)

	body, ct := multipartBody(t, map[string]string{
		"user_id":   "3",
		"latitude":  "45.1",
		"longitude": "9.2",
		"comment":   "rifiuti\nsul sentiero",
		"map_url":   "",
	}, map[string][]byte{"photo": []byte("jpeg")})
	req := httptest.NewRequest(http.MethodPost, "/reports", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, r, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	in := reports.lastSubmit
	assert.Equal(t, int64(3), in.UserID)
	assert.Equal(t, 45.1, in.Latitude)
	assert.Equal(t, 9.2, in.Longitude)
	require.NotNil(t, in.Comment)
	assert.Equal(t, "rifiuti\nsul sentiero", *in.Comment)
	assert.Nil(t, in.MapURL, "blank map_url is treated as absent")
	assert.Equal(t, []byte("jpeg"), in.Photo)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Anna", got["nickname"])
	assert.Equal(t, float64(3), got["user_id"])
}

func TestHandleSubmit_BadInput(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		field  string
	}{
		{"missing user_id", map[string]string{"latitude": "1", "longitude": "2"}, "user_id"},
		{"negative user_id", map[string]string{"user_id": "-1", "latitude": "1", "longitude": "2"}, "user_id"},
		{"missing latitude", map[string]string{"user_id": "1", "longitude": "2"}, "latitude"},
		{"non-numeric longitude", map[string]string{"user_id": "1", "latitude": "1", "longitude": "east"}, "longitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&fakeIdentity{}, &fakeReports{})
			body, ct := multipartBody(t, tt.fields, nil)
			req := httptest.NewRequest(http.MethodPost, "/reports", body)
			req.Header.Set("Content-Type", ct)
			rec := do(t, r, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.field, decodeError(t, rec).Field)
		})
	}
}

func TestHandleSubmit_ServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown user", apperror.NotFound("user", 9), http.StatusNotFound},
		{"three-line comment", apperror.ValidationFailed("comment", "at most 2 lines"), http.StatusBadRequest},
		{"storage", apperror.Storage("inserting report", errors.New("disk I/O error")), http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(&fakeIdentity{}, &fakeReports{err: tt.err})
			body, ct := multipartBody(t, map[string]string{"user_id": "9", "latitude": "1", "longitude": "2"}, nil)
			req := httptest.NewRequest(http.MethodPost, "/reports", body)
			req.Header.Set("Content-Type", ct)
			rec := do(t, r, req)

			require.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "disk I/O", "internal details must not leak")
			}
		})
	}
}

func TestHandleList_EmptyIsArray(t *testing.T) {
	r := newRouter(&fakeIdentity{}, &fakeReports{list: []model.Report{}})

	rec := do(t, r, httptest.NewRequest(http.MethodGet, "/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandleListByUser(t *testing.T) {
	r := newRouter(&fakeIdentity{}, &fakeReports{list: []model.Report{
		{ID: 3, UserID: 1}, {ID: 2, UserID: 2}, {ID: 1, UserID: 1},
	}})

	rec := do(t, r, httptest.NewRequest(http.MethodGet, "/api/users/1/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []model.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
}

// =========================================================================
// HEALTH
// =========================================================================

func TestHandleHealth(t *testing.T) {
	ok := NewHealthHandler(fakePinger{}, t.TempDir(), zap.NewNop())
	rec := httptest.NewRecorder()
	ok.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := NewHealthHandler(fakePinger{err: errors.New("closed")}, t.TempDir(), zap.NewNop())
	rec = httptest.NewRecorder()
	down.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleLogin_LongNicknameIsAccepted(t *testing.T) {
	identity := &fakeIdentity{user: &model.User{ID: 1}}
	r := newRouter(identity, &fakeReports{})

	long := strings.Repeat("n", 500)
	body, ct := multipartBody(t, map[string]string{"nickname": long, "email": strings.Repeat("e", 400) + "@example.com"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/auth/local", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, r, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, long, identity.lastLogin.Nickname)
}
