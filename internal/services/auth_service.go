// internal/services/auth_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/tunevault-backend/internal/config"
	"github.com/javajoker/tunevault-backend/internal/models"
	"github.com/javajoker/tunevault-backend/internal/repository"
	"github.com/javajoker/tunevault-backend/internal/utils"
)

type AuthService struct {
	store repository.Store
	users *UserService
	cfg   *config.Config
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,strong_password"`
}

type AuthResponse struct {
	User        *models.User `json:"user"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int          `json:"expires_in"` // in seconds
}

func NewAuthService(store repository.Store, users *UserService, cfg *config.Config) *AuthService {
	return &AuthService{
		store: store,
		users: users,
		cfg:   cfg,
	}
}

// Register creates an artist account and tries to provision its ledger
// identity. A provisioning failure does not fail registration; minting
// provisions again on demand.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, &ServiceError{Kind: ErrValidation, Message: "validation failed", Err: err}
	}

	if _, err := s.store.FindUserByEmail(ctx, req.Email); err == nil {
		return nil, newError(ErrStateConflict, "user with this email already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.FindUserByUsername(ctx, req.Username); err == nil {
		return nil, newError(ErrStateConflict, "username already taken")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		UserType: models.UserTypeArtist,
		Status:   models.UserStatusActive,
	}
	if err := user.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if provisioned, err := s.users.ProvisionLedgerIdentity(ctx, user.ID); err != nil {
		logrus.WithField("user_id", user.ID).WithError(err).Warn("Ledger identity provisioning deferred")
	} else {
		user = provisioned
	}

	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, &ServiceError{Kind: ErrValidation, Message: "validation failed", Err: err}
	}

	user, err := s.store.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrValidation, "invalid email or password")
		}
		return nil, err
	}
	if err := user.CheckPassword(req.Password); err != nil {
		return nil, newError(ErrValidation, "invalid email or password")
	}
	if user.Status == models.UserStatusSuspended {
		return nil, newError(ErrOwnership, "account is suspended")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		logrus.WithField("user_id", user.ID).WithError(err).Warn("Failed to update last login")
	}

	return s.issue(user)
}

func (s *AuthService) issue(user *models.User) (*AuthResponse, error) {
	token, err := utils.GenerateJWT(user.ID, user.Username, string(user.UserType), s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &AuthResponse{
		User:        user,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   s.cfg.JWT.AccessTokenTTL * 3600,
	}, nil
}
