package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	dbtypes "github.com/capsule-ai/capsule-backend/pkg/db/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// DefaultAction labels metered generation requests.
	DefaultAction = "generation"
	// DefaultUsageWindowDays is the stats window when none is configured.
	DefaultUsageWindowDays = 30
)

var (
	// ErrInsufficientCredits is returned when a debit exceeds the balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrUserNotFound is returned when the ledger has no active user to act on.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidAmount rejects non-positive ledger amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientCreditsError carries the balance observed when a debit was refused.
type InsufficientCreditsError struct {
	Balance  int
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Recorder receives ledger metrics.
type Recorder interface {
	ObserveDebit(action string, amount int, applied bool)
	AddCreditsGranted(method string, amount int)
}

// DebitInput describes one metered consumption.
type DebitInput struct {
	UserID   uuid.UUID
	Amount   int
	Action   string
	Metadata any
}

// DebitResult reports the balance after a successful debit.
type DebitResult struct {
	Balance    int   `json:"credits_balance"`
	Consumed   int   `json:"credits_used"`
	UsageLogID int64 `json:"usage_log_id"`
}

// UsageStats summarises usage over a trailing window.
type UsageStats struct {
	TotalCreditsUsed int                    `json:"total_credits_used"`
	UsageByAction    map[string]ActionUsage `json:"usage_by_action"`
	PeriodDays       int                    `json:"period_days"`
}

// Service owns every change to credits_balance.
type Service interface {
	Debit(ctx context.Context, input DebitInput) (*DebitResult, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int, method string) (int, error)
	RecordUsage(ctx context.Context, userID uuid.UUID, action string, creditsUsed int, metadata any) error
	UsageStats(ctx context.Context, userID uuid.UUID, windowDays int) (*UsageStats, error)
}

type service struct {
	tx      txRunner
	repo    Repository
	metrics Recorder
	now     func() time.Time
}

// NewService wires the ledger with its transaction runner and repository.
func NewService(tx txRunner, repo Repository, metrics Recorder) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	return &service{
		tx:      tx,
		repo:    repo,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Debit subtracts credits and appends the usage row in one transaction.
func (s *service) Debit(ctx context.Context, input DebitInput) (*DebitResult, error) {
	if input.UserID == uuid.Nil {
		return nil, ErrUserNotFound
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	action := strings.TrimSpace(input.Action)
	if action == "" {
		action = DefaultAction
	}
	metadata, err := dbtypes.NewJSONText(input.Metadata)
	if err != nil {
		return nil, err
	}

	result := &DebitResult{Consumed: input.Amount}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		applied, err := repo.DecrementBalance(ctx, input.UserID, input.Amount)
		if err != nil {
			return err
		}
		if !applied {
			balance, err := repo.Balance(ctx, input.UserID)
			if err != nil {
				return err
			}
			return &InsufficientCreditsError{Balance: balance, Required: input.Amount}
		}

		entry := &models.UsageLog{
			UserID:      input.UserID,
			Action:      action,
			CreditsUsed: input.Amount,
			Metadata:    metadata,
			Timestamp:   s.now(),
		}
		if err := repo.AppendUsage(ctx, entry); err != nil {
			return err
		}
		result.UsageLogID = entry.ID

		balance, err := repo.Balance(ctx, input.UserID)
		if err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})

	if s.metrics != nil && (err == nil || errors.Is(err, ErrInsufficientCredits)) {
		s.metrics.ObserveDebit(action, input.Amount, err == nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Credit adds credits unconditionally and returns the new balance.
func (s *service) Credit(ctx context.Context, userID uuid.UUID, amount int, method string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		applied, err := repo.IncrementBalance(ctx, userID, amount)
		if err != nil {
			return err
		}
		if !applied {
			return ErrUserNotFound
		}
		balance, err = repo.Balance(ctx, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.AddCreditsGranted(method, amount)
	}
	return balance, nil
}

// RecordUsage appends a usage row without touching the balance.
func (s *service) RecordUsage(ctx context.Context, userID uuid.UUID, action string, creditsUsed int, metadata any) error {
	if userID == uuid.Nil {
		return ErrUserNotFound
	}
	if creditsUsed < 0 {
		return ErrInvalidAmount
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("action is required")
	}
	doc, err := dbtypes.NewJSONText(metadata)
	if err != nil {
		return err
	}
	return s.repo.AppendUsage(ctx, &models.UsageLog{
		UserID:      userID,
		Action:      action,
		CreditsUsed: creditsUsed,
		Metadata:    doc,
		Timestamp:   s.now(),
	})
}

// UsageStats aggregates usage rows newer than now minus windowDays.
func (s *service) UsageStats(ctx context.Context, userID uuid.UUID, windowDays int) (*UsageStats, error) {
	if windowDays <= 0 {
		windowDays = DefaultUsageWindowDays
	}
	since := s.now().AddDate(0, 0, -windowDays)

	rows, err := s.repo.UsageByAction(ctx, userID, since)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{
		UsageByAction: make(map[string]ActionUsage, len(rows)),
		PeriodDays:    windowDays,
	}
	for _, row := range rows {
		stats.TotalCreditsUsed += row.CreditsUsed
		stats.UsageByAction[row.Action] = row
	}
	return stats, nil
}
