package repository

import (
	"context"

	"github.com/timmy/docpipe/internal/domain"
	"gorm.io/gorm"
)

// UserRepository handles user accounts.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *UserRepository: repository instance bound to db.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - user: user record to persist.
// Returns:
//   - error: non-nil if the insert fails, including a duplicate email.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: user ID.
// Returns:
//   - *domain.User: user record if found.
//   - error: gorm.ErrRecordNotFound when missing.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by normalized email.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - email: lower-cased email.
// Returns:
//   - *domain.User: user record if found.
//   - error: gorm.ErrRecordNotFound when missing.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ExistsByEmail checks whether an account uses email.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - email: lower-cased email.
// Returns:
//   - bool: true if an account exists.
//   - error: non-nil if the query fails.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// List returns a page of users ordered by creation time and the total count.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: page size.
//   - offset: number of users to skip.
// Returns:
//   - []domain.User: users in the page, newest first.
//   - int64: total number of users.
//   - error: non-nil if the query fails.
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]domain.User, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&domain.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []domain.User
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// UpdateRole sets a user's role.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: user ID.
//   - role: new role.
// Returns:
//   - error: gorm.ErrRecordNotFound when no row matched.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role domain.Role) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
