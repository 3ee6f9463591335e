package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/auth"
	"github.com/spec-kit/ticket-realtime/internal/config"
	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/repository"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

const minPasswordLength = 8

// AuthService coordinates registration and login flows.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, users repository.UserRepository, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:      users,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
	}
}

// Session is an issued access token together with the account it belongs to.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// RegisterUser creates a new customer account and signs it in.
func (s *AuthService) RegisterUser(ctx context.Context, name, email, password string) (*Session, error) {
	user, err := s.createAccount(ctx, name, email, password, domain.RoleUser)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// EnsureAdmin creates the staff account if the email is not registered yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) (*domain.User, error) {
	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		if existing.Role != domain.RoleAdmin {
			return nil, apperrors.NewConflict("email registered to a customer account", map[string]any{"email": email})
		}
		return existing, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	user, err := s.createAccount(ctx, "Administrator", email, password, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin account created", zap.String("user_id", user.ID))
	return user, nil
}

// Login authenticates any account and returns a role-bearing token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, apperrors.NewForbidden("account suspended")
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.issue(user)
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) createAccount(ctx context.Context, name, email, password string, role domain.Role) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperrors.NewValidationError("valid email required", nil)
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.NewValidationError("password too short", map[string]any{"min_length": minPasswordLength})
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", nil)
	} else if !apperrors.IsNotFound(err) {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) issue(user *domain.User) (*Session, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}
