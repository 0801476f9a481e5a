package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/repository"
	"gorm.io/gorm"
)

// UserService manages accounts on behalf of admins.
type UserService struct {
	users  *repository.UserRepository
	logger *logger.Logger
}

func NewUserService(users *repository.UserRepository, log *logger.Logger) *UserService {
	return &UserService{users: users, logger: log.WithComponent("users")}
}

// UserPage is one page of accounts.
type UserPage struct {
	Data []domain.User `json:"data"`
	Meta PageMeta      `json:"meta"`
}

// Get returns ErrNotFound when the user does not exist.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// List returns users newest first.
func (s *UserService) List(ctx context.Context, page, limit int) (*UserPage, error) {
	p := newPaging(page, limit, defaultPageSize, maxPageSize)
	users, total, err := s.users.List(ctx, p.Limit, p.offset())
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return &UserPage{Data: users, Meta: p.meta(total)}, nil
}

// UpdateRole changes a user's role. Admins cannot be demoted and setting
// the current role again is rejected.
func (s *UserService) UpdateRole(ctx context.Context, id string, role domain.Role) (*domain.User, error) {
	if _, ok := domain.ParseRole(string(role)); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Role == domain.RoleAdmin && role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: cannot change role of an admin user", ErrForbidden)
	}
	if user.Role == role {
		return nil, fmt.Errorf("%w: user already has role %s", ErrInvalidInput, role)
	}

	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	user.Role = role

	s.logger.WithFields(logger.Fields{
		logger.FieldUserID: id,
		"role":             string(role),
	}).Info("User role updated")
	return user, nil
}

// EnsureUser creates the account unless the email is already taken.
// It reports whether a new account was created.
func (s *UserService) EnsureUser(ctx context.Context, email, password, fullName string, role domain.Role) (bool, error) {
	email = normalizeEmail(email)
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return false, nil
	}
	user, err := newUser(email, password, fullName, role)
	if err != nil {
		return false, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return false, fmt.Errorf("create user: %w", err)
	}
	return true, nil
}
