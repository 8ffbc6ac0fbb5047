package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/apperror"
	"github.com/sakif/envir-social/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. Using a fake (not a
// mock framework) keeps the tests easy to read: you can see exactly what the
// fake does.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64

	// beforeCreate runs once at the start of the next Create, without the
	// lock held. Tests use it to sneak in a competing insert.
	beforeCreate func()

	// set to a non-nil error to simulate a database failure
	findErr error

	renames int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User), nextID: 1}
}

func clone(u *model.User) *model.User {
	c := *u
	return &c
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, u := range f.users {
		if email != "" && u.Email != nil && *u.Email == email {
			return clone(u), nil
		}
	}
	return nil, apperror.NotFoundBy("user", "email", email)
}

func (f *fakeUserRepo) FindByNickname(ctx context.Context, nickname string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if f.users[id].Nickname == nickname {
			return clone(f.users[id]), nil
		}
	}
	return nil, apperror.NotFoundBy("user", "nickname", nickname)
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return clone(u), nil
}

func (f *fakeUserRepo) Create(ctx context.Context, in model.NewUser) (*model.User, error) {
	if hook := f.beforeCreate; hook != nil {
		f.beforeCreate = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Email != nil {
		for _, u := range f.users {
			if u.Email != nil && *u.Email == *in.Email {
				return nil, apperror.Conflict("user", "email", *in.Email)
			}
		}
	}
	u := &model.User{
		ID:         f.nextID,
		Email:      in.Email,
		Nickname:   in.Nickname,
		AvatarPath: in.AvatarPath,
		CreatedAt:  time.Now(),
	}
	f.nextID++
	f.users[u.ID] = u
	return clone(u), nil
}

func (f *fakeUserRepo) Rename(ctx context.Context, id int64, nickname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.Nickname = nickname
	f.renames++
	return nil
}

func (f *fakeUserRepo) AttachAvatar(ctx context.Context, id int64, avatarPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.AvatarPath = &avatarPath
	return nil
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// fakeReportRepo stores reports in a slice.
type fakeReportRepo struct {
	users   *fakeUserRepo
	reports []model.Report
	created []model.NewReport
}

func (f *fakeReportRepo) Create(ctx context.Context, in model.NewReport) (*model.Report, error) {
	owner, err := f.users.FindByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	f.created = append(f.created, in)
	r := model.Report{
		ID:        int64(len(f.reports) + 1),
		UserID:    in.UserID,
		Nickname:  owner.Nickname,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		MapURL:    in.MapURL,
		Comment:   in.Comment,
		PhotoPath: in.PhotoPath,
		CreatedAt: time.Now(),
	}
	f.reports = append(f.reports, r)
	return &r, nil
}

func (f *fakeReportRepo) ListAll(ctx context.Context) ([]model.Report, error) {
	out := make([]model.Report, 0, len(f.reports))
	for i := len(f.reports) - 1; i >= 0; i-- {
		out = append(out, f.reports[i])
	}
	return out, nil
}

func (f *fakeReportRepo) ListByUser(ctx context.Context, userID int64) ([]model.Report, error) {
	all, _ := f.ListAll(ctx)
	out := []model.Report{}
	for _, r := range all {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeImages records what it was asked to store.
type fakeImages struct {
	avatars []int64
	photos  []int64
	err     error
}

func (f *fakeImages) SaveAvatar(ctx context.Context, data []byte, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.avatars = append(f.avatars, userID)
	return fmt.Sprintf("media/avatars/%d.jpg", userID), nil
}

func (f *fakeImages) SaveReportPhoto(ctx context.Context, data []byte, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.photos = append(f.photos, userID)
	return fmt.Sprintf("media/reports/%d_%d.jpg", userID, len(f.photos)), nil
}

var errDiskFull = errors.New("disk full")

func testLogger() *zap.Logger { return zap.NewNop() }
