package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateEmail is returned when the email unique index rejects an insert.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotFound is returned when no matching active user exists.
	ErrNotFound = errors.New("user not found")
)

// Repository exposes user-related persistence operations. Lookups used for
// authentication only see active users.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts a new user. Uniqueness is decided by the storage index,
// so concurrent registrations for one email yield exactly one row.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	if dto.StartingCredits < 0 {
		return nil, fmt.Errorf("starting credits must not be negative")
	}
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return user, nil
}

// FindByEmail retrieves the active user matching the provided email exactly.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("email = ? AND is_active = ?", email, true).
		First(&user).Error
	return wrapLookup(&user, err)
}

// FindByID loads an active user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", id, true).
		First(&user).Error
	return wrapLookup(&user, err)
}

// FindByIDIncludingInactive loads a user regardless of activation state.
func (r *Repository) FindByIDIncludingInactive(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("user_id = ?", id).First(&user).Error
	return wrapLookup(&user, err)
}

// Update persists the mutable profile fields. credits_balance is never
// written here; it only changes through the credit ledger.
func (r *Repository) Update(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ?", user.ID).
		Updates(map[string]any{
			"password_hash":     user.PasswordHash,
			"subscription_tier": user.SubscriptionTier,
			"last_login":        user.LastLogin,
			"is_active":         user.IsActive,
		})
	return requireRow(res)
}

// UpdateLastLogin refreshes the user's last_login timestamp.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ?", id).
		UpdateColumn("last_login", at.UTC())
	return requireRow(res)
}

// UpdatePasswordHash replaces the stored hash for an active user.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ? AND is_active = ?", id, true).
		UpdateColumn("password_hash", hash)
	return requireRow(res)
}

// Deactivate soft-deletes an account. Usage and payment history is kept.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ? AND is_active = ?", id, true).
		UpdateColumn("is_active", false)
	return requireRow(res)
}

func wrapLookup(user *models.User, err error) (*models.User, error) {
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func requireRow(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
