package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/timmy/docpipe/internal/auth"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/repository"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// AuthService registers accounts and issues access tokens.
type AuthService struct {
	users  *repository.UserRepository
	tokens *auth.JWTManager
	logger *logger.Logger
}

func NewAuthService(users *repository.UserRepository, tokens *auth.JWTManager, log *logger.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, logger: log.WithComponent("auth")}
}

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName" binding:"required"`
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"accessToken"`
}

// Register creates a viewer account. A taken email yields ErrConflict.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || strings.TrimSpace(in.FullName) == "" {
		return nil, fmt.Errorf("%w: email and full name are required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: user with this email already exists", ErrConflict)
	}

	user, err := newUser(email, in.Password, strings.TrimSpace(in.FullName), domain.RoleViewer)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.WithField(logger.FieldUserID, user.ID).Info("User registered")
	return s.issue(user)
}

// Login checks credentials. Unknown email and wrong password both yield ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("check password: %w", err)
	}
	if !ok || !user.IsActive {
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *domain.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, AccessToken: token}, nil
}

// newUser builds an active account with a hashed password.
func newUser(email, password, fullName string, role domain.Role) (*domain.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		FullName:     fullName,
		Role:         role,
		IsActive:     true,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
