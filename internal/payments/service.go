package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/capsule-ai/capsule-backend/internal/credits"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no payment matches the lookup.
	ErrNotFound = errors.New("payment not found")
	// ErrInvalidTransition rejects moving a terminal payment into the other terminal state.
	ErrInvalidTransition = errors.New("invalid payment status transition")
	// ErrInvalidPayment wraps input validation failures.
	ErrInvalidPayment = errors.New("invalid payment")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Recorder receives payment metrics.
type Recorder interface {
	IncPayment(method, status string)
	AddCreditsGranted(method string, amount int)
}

// RecordInput describes one payment row.
type RecordInput struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Credits       int
	Method        enums.PaymentMethod
	TransactionID string
}

// Result reports the outcome of a status change. Applied is false when the
// call was a replay of a transition that had already happened.
type Result struct {
	Payment *models.Payment
	Applied bool
	Balance int
}

// Service records payments and applies the matching ledger credit.
type Service interface {
	RecordPending(ctx context.Context, input RecordInput) (*models.Payment, error)
	MarkCompleted(ctx context.Context, paymentID int64) (*Result, error)
	MarkFailed(ctx context.Context, paymentID int64) (*Result, error)
	RecordCompleted(ctx context.Context, input RecordInput) (*Result, error)
	FindByTransactionID(ctx context.Context, method enums.PaymentMethod, transactionID string) (*models.Payment, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error)
}

// ServiceParams wires the payment recorder.
type ServiceParams struct {
	TransactionRunner txRunner
	Repo              Repository
	Ledger            credits.Repository
	Metrics           Recorder
}

type service struct {
	tx      txRunner
	repo    Repository
	ledger  credits.Repository
	metrics Recorder
}

// NewService validates and wires the payment recorder.
func NewService(params ServiceParams) (Service, error) {
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	return &service{
		tx:      params.TransactionRunner,
		repo:    params.Repo,
		ledger:  params.Ledger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) RecordPending(ctx context.Context, input RecordInput) (*models.Payment, error) {
	payment, err := buildPayment(input, enums.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, err
	}
	s.observe(payment.PaymentMethod, enums.PaymentStatusPending)
	return payment, nil
}

// MarkCompleted flips a pending payment to completed and credits the user in
// the same transaction. Completing an already completed payment is a replay.
func (s *service) MarkCompleted(ctx context.Context, paymentID int64) (*Result, error) {
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.complete(ctx, tx, paymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterComplete(result)
	return result, nil
}

// MarkFailed flips a pending payment to failed. The balance is never touched.
func (s *service) MarkFailed(ctx context.Context, paymentID int64) (*Result, error) {
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByID(ctx, paymentID)
		if err != nil {
			return err
		}
		switch payment.Status {
		case enums.PaymentStatusFailed:
			result = &Result{Payment: payment}
			return nil
		case enums.PaymentStatusCompleted:
			return fmt.Errorf("%w: payment %d is already completed", ErrInvalidTransition, paymentID)
		}

		applied, err := repo.TransitionStatus(ctx, paymentID, enums.PaymentStatusPending, enums.PaymentStatusFailed)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: payment %d changed concurrently", ErrInvalidTransition, paymentID)
		}
		payment.Status = enums.PaymentStatusFailed
		result = &Result{Payment: payment, Applied: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Applied {
		s.observe(result.Payment.PaymentMethod, enums.PaymentStatusFailed)
	}
	return result, nil
}

// RecordCompleted inserts a completed payment and credits the user. With a
// transaction id the grant lands at most once; a repeat returns the stored
// payment with Applied=false.
func (s *service) RecordCompleted(ctx context.Context, input RecordInput) (*Result, error) {
	payment, err := buildPayment(input, enums.PaymentStatusCompleted)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if payment.TransactionID != nil {
			existing, err := repo.FindByTransactionID(ctx, payment.PaymentMethod, *payment.TransactionID)
			switch {
			case err == nil:
				if existing.Status == enums.PaymentStatusPending {
					result, err = s.complete(ctx, tx, existing.ID)
					return err
				}
				result, err = s.replay(ctx, tx, existing)
				return err
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		if err := repo.Create(ctx, payment); err != nil {
			return err
		}
		balance, err := s.credit(ctx, tx, payment)
		if err != nil {
			return err
		}
		result = &Result{Payment: payment, Applied: true, Balance: balance}
		return nil
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		return s.replayDuplicate(ctx, payment)
	}
	if err != nil {
		return nil, err
	}
	s.afterComplete(result)
	return result, nil
}

func (s *service) FindByTransactionID(ctx context.Context, method enums.PaymentMethod, transactionID string) (*models.Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, ErrNotFound
	}
	return s.repo.FindByTransactionID(ctx, method, transactionID)
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *service) complete(ctx context.Context, tx *gorm.DB, paymentID int64) (*Result, error) {
	repo := s.repo.WithTx(tx)
	payment, err := repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case enums.PaymentStatusCompleted:
		return s.replay(ctx, tx, payment)
	case enums.PaymentStatusFailed:
		return nil, fmt.Errorf("%w: payment %d already failed", ErrInvalidTransition, paymentID)
	}

	applied, err := repo.TransitionStatus(ctx, paymentID, enums.PaymentStatusPending, enums.PaymentStatusCompleted)
	if err != nil {
		return nil, err
	}
	if !applied {
		current, err := repo.FindByID(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if current.Status == enums.PaymentStatusCompleted {
			return s.replay(ctx, tx, current)
		}
		return nil, fmt.Errorf("%w: payment %d is %s", ErrInvalidTransition, paymentID, current.Status)
	}
	payment.Status = enums.PaymentStatusCompleted

	balance, err := s.credit(ctx, tx, payment)
	if err != nil {
		return nil, err
	}
	return &Result{Payment: payment, Applied: true, Balance: balance}, nil
}

func (s *service) credit(ctx context.Context, tx *gorm.DB, payment *models.Payment) (int, error) {
	ledger := s.ledger.WithTx(tx)
	applied, err := ledger.IncrementBalance(ctx, payment.UserID, payment.CreditsPurchased)
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, credits.ErrUserNotFound
	}
	return ledger.Balance(ctx, payment.UserID)
}

func (s *service) replay(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*Result, error) {
	balance, err := s.ledger.WithTx(tx).Balance(ctx, payment.UserID)
	if err != nil && !errors.Is(err, credits.ErrUserNotFound) {
		return nil, err
	}
	return &Result{Payment: payment, Applied: false, Balance: balance}, nil
}

// replayDuplicate resolves a lost insert race on (method, transaction id).
func (s *service) replayDuplicate(ctx context.Context, payment *models.Payment) (*Result, error) {
	if payment.TransactionID == nil {
		return nil, ErrDuplicateTransaction
	}
	existing, err := s.repo.FindByTransactionID(ctx, payment.PaymentMethod, *payment.TransactionID)
	if err != nil {
		return nil, err
	}
	if existing.Status == enums.PaymentStatusPending {
		return s.MarkCompleted(ctx, existing.ID)
	}
	var result *Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.replay(ctx, tx, existing)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) afterComplete(result *Result) {
	if result == nil || !result.Applied || result.Payment == nil {
		return
	}
	s.observe(result.Payment.PaymentMethod, enums.PaymentStatusCompleted)
	if s.metrics != nil {
		s.metrics.AddCreditsGranted(result.Payment.PaymentMethod.String(), result.Payment.CreditsPurchased)
	}
}

func (s *service) observe(method enums.PaymentMethod, status enums.PaymentStatus) {
	if s.metrics != nil {
		s.metrics.IncPayment(method.String(), status.String())
	}
}

func buildPayment(input RecordInput, status enums.PaymentStatus) (*models.Payment, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPayment)
	}
	if input.Credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive", ErrInvalidPayment)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidPayment)
	}
	if !input.Method.IsValid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidPayment, input.Method)
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	payment := &models.Payment{
		UserID:           input.UserID,
		Amount:           input.Amount.Round(2),
		Currency:         currency,
		CreditsPurchased: input.Credits,
		PaymentMethod:    input.Method,
		Status:           status,
	}
	if txn := strings.TrimSpace(input.TransactionID); txn != "" {
		payment.TransactionID = &txn
	}
	return payment, nil
}
