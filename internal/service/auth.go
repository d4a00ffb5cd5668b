package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/logger"
	"github.com/iliyamo/carmod-studio/internal/model"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/utils"
)

type AuthUsers interface {
	Create(ctx context.Context, u *model.User, password string, cost int) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// SessionStore persists refresh token hashes.
type SessionStore interface {
	Store(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	Validate(ctx context.Context, tokenHash string) (uint64, error)
	Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

type AuthConfig struct {
	JWTSecret                string
	AccessTTLMin             int
	RefreshTTLDays           int
	BcryptCost               int
	RequireEmailVerification bool
}

type AuthService struct {
	users    AuthUsers
	sessions SessionStore
	cfg      AuthConfig
}

func NewAuthService(users AuthUsers, sessions SessionStore, cfg AuthConfig) *AuthService {
	return &AuthService{users: users, sessions: sessions, cfg: cfg}
}

// RegisterInput opens a new centre: registration always creates an admin.
type RegisterInput struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6,max=72"`
	CentreName string `json:"centre_name" validate:"required"`
	Location   string `json:"location" validate:"required"`
}

// Session is an authenticated user with a fresh token pair.  The tokens are
// nil when the account still awaits email verification.
type Session struct {
	User    model.User
	Access  *utils.AccessToken
	Refresh *utils.RefreshToken
}

var errInvalidCredentials = apperr.New(apperr.CodeUnauthenticated, "invalid credentials")

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return Session{}, err
	}
	u := model.User{
		Name:          strings.TrimSpace(in.Name),
		Email:         in.Email,
		Role:          model.RoleAdmin,
		CentreName:    in.CentreName,
		Location:      in.Location,
		EmailVerified: !s.cfg.RequireEmailVerification,
	}
	if err := s.users.Create(ctx, &u, in.Password, s.cfg.BcryptCost); err != nil {
		return Session{}, storeErr(err, "user")
	}
	if !u.EmailVerified {
		return Session{User: u}, nil
	}
	return s.issue(ctx, u)
}

// Login checks credentials.  Unknown emails, deactivated accounts and wrong
// passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, apperr.Validation("email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, errInvalidCredentials
	}
	if err != nil {
		return Session{}, storeErr(err, "user")
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, password) {
		return Session{}, errInvalidCredentials
	}
	if s.cfg.RequireEmailVerification && !u.EmailVerified {
		return Session{}, apperr.Forbidden("please verify your email before logging in")
	}
	return s.issue(ctx, u)
}

// Refresh exchanges a refresh token for a new pair.  Each refresh token can
// be exchanged once.
func (s *AuthService) Refresh(ctx context.Context, raw string) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, fieldError("refresh_token", "is required")
	}
	oldHash := utils.HashRefreshRaw(raw)
	userID, err := s.sessions.Validate(ctx, oldHash)
	if err != nil {
		return Session{}, refreshErr(err)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return Session{}, storeErr(err, "user")
	}
	if err != nil || !u.IsActive {
		_ = s.sessions.RevokeAllForUser(ctx, userID)
		return Session{}, apperr.New(apperr.CodePrincipalNotFound, "user no longer exists")
	}

	access, err := utils.NewAccessToken(s.cfg.JWTSecret, u.ID, string(u.Role), s.cfg.AccessTTLMin)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeUpstream, err, "issue access token")
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshTTLDays)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeUpstream, err, "issue refresh token")
	}
	if err := s.sessions.Rotate(ctx, u.ID, oldHash, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return Session{}, refreshErr(err)
	}
	return Session{User: u, Access: &access, Refresh: &refresh}, nil
}

// Logout revokes the given refresh token, or every session of userID when
// no token is supplied.
func (s *AuthService) Logout(ctx context.Context, userID uint64, raw string) error {
	raw = strings.TrimSpace(raw)
	switch {
	case raw != "":
		hash := utils.HashRefreshRaw(raw)
		owner, err := s.sessions.Validate(ctx, hash)
		if err != nil {
			return refreshErr(err)
		}
		if userID != 0 && owner != userID {
			return apperr.Forbidden("refresh token belongs to another user")
		}
		if err := s.sessions.Revoke(ctx, hash); err != nil {
			return apperr.Wrap(apperr.CodeUpstream, err, "revoke refresh token")
		}
		return nil
	case userID != 0:
		if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
			return apperr.Wrap(apperr.CodeUpstream, err, "revoke sessions")
		}
		return nil
	}
	return apperr.Validation("provide an Authorization header or refresh_token")
}

// SeedProvider creates the platform provider account when it does not exist
// yet.  Empty credentials skip seeding.
func (s *AuthService) SeedProvider(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	u := model.User{Name: "Provider", Email: email, Role: model.RoleProvider, EmailVerified: true}
	if err := s.users.Create(ctx, &u, password, s.cfg.BcryptCost); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil
		}
		return err
	}
	logger.From(ctx).Info().Uint64("user_id", u.ID).Msg("provider account seeded")
	return nil
}

func (s *AuthService) issue(ctx context.Context, u model.User) (Session, error) {
	access, err := utils.NewAccessToken(s.cfg.JWTSecret, u.ID, string(u.Role), s.cfg.AccessTTLMin)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeUpstream, err, "issue access token")
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshTTLDays)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.CodeUpstream, err, "issue refresh token")
	}
	if err := s.sessions.Store(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return Session{}, apperr.Wrap(apperr.CodeUpstream, err, "store refresh token")
	}
	return Session{User: u, Access: &access, Refresh: &refresh}, nil
}

func refreshErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(apperr.CodeUnauthenticated, "invalid refresh token")
	}
	return apperr.Wrap(apperr.CodeUpstream, err, "refresh token lookup")
}
