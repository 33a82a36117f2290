package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	transactionConstraint = "ux_payments_method_txn"
	// sqlite reports the column list instead of the index name.
	transactionColumns = "payments.payment_method, payments.transaction_id"
)

// ErrDuplicateTransaction reports a second row for the same (method, transaction id).
var ErrDuplicateTransaction = errors.New("payment transaction already recorded")

// Repository persists payment rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id int64) (*models.Payment, error)
	FindByTransactionID(ctx context.Context, method enums.PaymentMethod, transactionID string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error)
	TransitionStatus(ctx context.Context, id int64, from, to enums.PaymentStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a payments repository to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		if db.IsUniqueViolation(err, transactionConstraint) || db.IsUniqueViolation(err, transactionColumns) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByTransactionID(ctx context.Context, method enums.PaymentMethod, transactionID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("payment_method = ? AND transaction_id = ?", method, transactionID).
		First(&payment).Error
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TransitionStatus moves a payment between states only when it is still in
// from. It reports whether this call performed the transition.
func (r *repository) TransitionStatus(ctx context.Context, id int64, from, to enums.PaymentStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("illegal payment transition %s -> %s", from, to)
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
