package credits

import (
	"context"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActionUsage aggregates usage rows for one action.
type ActionUsage struct {
	Action      string `json:"-"`
	CreditsUsed int    `json:"credits_used"`
	Count       int    `json:"count"`
}

// Repository manages balance mutations and the usage log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	DecrementBalance(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
	IncrementBalance(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	AppendUsage(ctx context.Context, entry *models.UsageLog) error
	UsageByAction(ctx context.Context, userID uuid.UUID, since time.Time) ([]ActionUsage, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// DecrementBalance subtracts amount only when the active user can cover it.
// The guard lives in the WHERE clause so concurrent debits cannot overdraw.
func (r *repository) DecrementBalance(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ? AND is_active = ? AND credits_balance >= ?", userID, true, amount).
		UpdateColumn("credits_balance", gorm.Expr("credits_balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) IncrementBalance(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("user_id = ?", userID).
		UpdateColumn("credits_balance", gorm.Expr("credits_balance + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select("credits_balance").
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&user).Error
	if err != nil {
		if db.IsNotFound(err) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return user.CreditsBalance, nil
}

func (r *repository) AppendUsage(ctx context.Context, entry *models.UsageLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) UsageByAction(ctx context.Context, userID uuid.UUID, since time.Time) ([]ActionUsage, error) {
	var rows []ActionUsage
	err := r.db.WithContext(ctx).
		Model(&models.UsageLog{}).
		Select(`action, COALESCE(SUM(credits_used), 0) AS credits_used, COUNT(*) AS count`).
		Where(`user_id = ? AND "timestamp" >= ?`, userID, since.UTC()).
		Group("action").
		Order("action ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
