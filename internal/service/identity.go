// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services depend on repository interfaces, not on repository/sqlite, so
// tests can swap in in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/apperror"
	"github.com/sakif/envir-social/internal/media"
	"github.com/sakif/envir-social/internal/model"
	"github.com/sakif/envir-social/internal/repository"
)

// NicknamePolicy decides whether a nickname alone can identify a returning user.
type NicknamePolicy string

const (
	// NicknameMerge reuses the oldest user with the same nickname when no
	// email matched. Two different people picking the same nickname end up
	// sharing one identity; every such merge is logged.
	NicknameMerge NicknamePolicy = "merge"
	// NicknameEmailOnly only recognises users by email. A login without an
	// email always creates a new user.
	NicknameEmailOnly NicknamePolicy = "email_only"
)

// ParseNicknamePolicy accepts "merge", "email_only" or "" (merge).
func ParseNicknamePolicy(s string) (NicknamePolicy, error) {
	switch NicknamePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NicknameMerge:
		return NicknameMerge, nil
	case NicknameEmailOnly:
		return NicknameEmailOnly, nil
	}
	return "", fmt.Errorf("unknown nickname policy %q (want %q or %q)", s, NicknameMerge, NicknameEmailOnly)
}

// LoginInput is what the login endpoint hands to Reconcile.
type LoginInput struct {
	Nickname string
	Email    string // "" means no email
	Avatar   []byte // nil means no avatar upload
}

// IdentityService resolves a claimed nickname/email pair to one user.
type IdentityService struct {
	users  repository.UserRepository
	images media.Processor
	policy NicknamePolicy
	logger *zap.Logger
}

func NewIdentityService(users repository.UserRepository, images media.Processor, policy NicknamePolicy, logger *zap.Logger) *IdentityService {
	if policy == "" {
		policy = NicknameMerge
	}
	return &IdentityService{
		users:  users,
		images: images,
		policy: policy,
		logger: logger,
	}
}

// Reconcile returns exactly one user for the given identity signals,
// creating or renaming it as needed.
//
// RESOLUTION ORDER:
//  1. email given → look the user up by email
//  2. still nothing (and policy is merge) → look up by nickname, oldest wins
//  3. found but under another nickname → rename (last write wins);
//     the stored email is never changed here
//  4. nothing found → create. If that loses a race on the email UNIQUE
//     index, the other request's user now exists: go back to step 1
//     instead of failing
//  5. avatar given → store it and attach it, now that the id is known
func (s *IdentityService) Reconcile(ctx context.Context, in LoginInput) (*model.User, error) {
	nickname := strings.TrimSpace(in.Nickname)
	email := strings.TrimSpace(in.Email)
	if nickname == "" {
		return nil, apperror.ValidationFailed("nickname", "nickname must not be empty")
	}

	user, err := s.resolve(ctx, nickname, email)
	if err != nil {
		return nil, err
	}

	if user.Nickname != nickname {
		if err := s.users.Rename(ctx, user.ID, nickname); err != nil {
			return nil, fmt.Errorf("service/identity: renaming user %d: %w", user.ID, err)
		}
		s.logger.Info("user renamed",
			zap.Int64("userID", user.ID),
			zap.String("from", user.Nickname),
			zap.String("to", nickname),
		)
		user.Nickname = nickname
	}

	if len(in.Avatar) > 0 {
		path, err := s.images.SaveAvatar(ctx, in.Avatar, user.ID)
		if err != nil {
			return nil, fmt.Errorf("service/identity: storing avatar for user %d: %w", user.ID, err)
		}
		if err := s.users.AttachAvatar(ctx, user.ID, path); err != nil {
			return nil, fmt.Errorf("service/identity: attaching avatar to user %d: %w", user.ID, err)
		}
		user, err = s.users.FindByID(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("service/identity: reloading user: %w", err)
		}
	}

	return user, nil
}

// resolve runs steps 1, 2 and 4 and returns the candidate, not yet renamed.
func (s *IdentityService) resolve(ctx context.Context, nickname, email string) (*model.User, error) {
	if user, err := s.lookup(ctx, nickname, email); err != nil || user != nil {
		return user, err
	}

	in := model.NewUser{Nickname: nickname}
	if email != "" {
		in.Email = &email
	}

	created, err := s.users.Create(ctx, in)
	if err == nil {
		s.logger.Info("user created",
			zap.Int64("userID", created.ID),
			zap.String("nickname", created.Nickname),
			zap.Bool("hasEmail", created.Email != nil),
		)
		return created, nil
	}

	if email != "" && errors.Is(err, apperror.ErrConflict) {
		// A concurrent login inserted this email between our lookup and our
		// insert. That row is the user we were looking for.
		user, lookupErr := s.users.FindByEmail(ctx, email)
		if lookupErr != nil {
			return nil, fmt.Errorf("service/identity: re-resolving %q after conflict: %w", email, lookupErr)
		}
		s.logger.Info("create lost email race, reusing existing user", zap.Int64("userID", user.ID))
		return user, nil
	}

	return nil, fmt.Errorf("service/identity: creating user: %w", err)
}

// lookup returns (nil, nil) when no identity signal matched.
func (s *IdentityService) lookup(ctx context.Context, nickname, email string) (*model.User, error) {
	if email != "" {
		user, err := s.users.FindByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/identity: looking up email: %w", err)
		}
	}

	if s.policy != NicknameMerge {
		return nil, nil
	}

	user, err := s.users.FindByNickname(ctx, nickname)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/identity: looking up nickname: %w", err)
	}

	if email != "" || user.Email != nil {
		// Not a plain anonymous revisit: someone is reusing a nickname that
		// may belong to a different person.
		s.logger.Warn("identity merged by nickname",
			zap.Int64("userID", user.ID),
			zap.String("nickname", nickname),
			zap.Bool("claimedEmail", email != ""),
			zap.Bool("storedEmail", user.Email != nil),
		)
	}
	return user, nil
}

// GetUser returns a user by id.
func (s *IdentityService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching user %d: %w", id, err)
	}
	return user, nil
}
