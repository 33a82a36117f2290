package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/capsule-ai/capsule-backend/internal/credits"
	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	mu       sync.Mutex
	payments map[string]int
	granted  int
}

func (f *fakeMetrics) IncPayment(method, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payments == nil {
		f.payments = map[string]int{}
	}
	f.payments[method+"/"+status]++
}

func (f *fakeMetrics) AddCreditsGranted(method string, amount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted += amount
}

type paymentsFixture struct {
	client  *db.Client
	svc     Service
	metrics *fakeMetrics
}

func newPaymentsFixture(t *testing.T) *paymentsFixture {
	t.Helper()
	client, err := db.New(context.Background(), config.DBConfig{
		Driver:     db.DriverSQLite,
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	metrics := &fakeMetrics{}
	svc, err := NewService(ServiceParams{
		TransactionRunner: client,
		Repo:              NewRepository(client.DB()),
		Ledger:            credits.NewRepository(client.DB()),
		Metrics:           metrics,
	})
	require.NoError(t, err)
	return &paymentsFixture{client: client, svc: svc, metrics: metrics}
}

func (f *paymentsFixture) seedUser(t *testing.T, balance int) uuid.UUID {
	t.Helper()
	user := &models.User{
		ID:               uuid.New(),
		Email:            fmt.Sprintf("pay_%s@capsule-ai.com", uuid.NewString()),
		PasswordHash:     "hash",
		CreditsBalance:   balance,
		SubscriptionTier: "free",
		IsActive:         true,
	}
	require.NoError(t, f.client.DB().Create(user).Error)
	return user.ID
}

func (f *paymentsFixture) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	var user models.User
	require.NoError(t, f.client.DB().Where("user_id = ?", userID).First(&user).Error)
	return user.CreditsBalance
}

func (f *paymentsFixture) paymentCount(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.client.DB().Model(&models.Payment{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func manualGrant(userID uuid.UUID, credits int, txn string) RecordInput {
	return RecordInput{
		UserID:        userID,
		Amount:        decimal.NewFromFloat(0.10).Mul(decimal.NewFromInt(int64(credits))),
		Currency:      "usd",
		Credits:       credits,
		Method:        enums.PaymentMethodManual,
		TransactionID: txn,
	}
}

func TestRecordCompletedIsIdempotentOnTransactionID(t *testing.T) {
	f := newPaymentsFixture(t)
	ctx := context.Background()
	userID := f.seedUser(t, 48)

	first, err := f.svc.RecordCompleted(ctx, manualGrant(userID, 100, "admin-grant-1"))
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, 148, first.Balance)
	assert.Equal(t, enums.PaymentStatusCompleted, first.Payment.Status)
	assert.Equal(t, "USD", first.Payment.Currency)
	assert.True(t, first.Payment.Amount.Equal(decimal.NewFromInt(10)))

	replay, err := f.svc.RecordCompleted(ctx, manualGrant(userID, 100, "admin-grant-1"))
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, 148, replay.Balance)
	assert.Equal(t, first.Payment.ID, replay.Payment.ID)

	assert.Equal(t, 148, f.balance(t, userID))
	assert.EqualValues(t, 1, f.paymentCount(t, userID))
	assert.Equal(t, 100, f.metrics.granted)
}

func TestRecordCompletedWithoutTransactionIDAlwaysGrants(t *testing.T) {
	f := newPaymentsFixture(t)
	ctx := context.Background()
	userID := f.seedUser(t, 0)

	for i := 0; i < 2; i++ {
		res, err := f.svc.RecordCompleted(ctx, manualGrant(userID, 10, ""))
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.Nil(t, res.Payment.TransactionID)
	}
	assert.Equal(t, 20, f.balance(t, userID))
	assert.EqualValues(t, 2, f.paymentCount(t, userID))
}

func TestRecordCompletedUnknownUserRollsBack(t *testing.T) {
	f := newPaymentsFixture(t)
	ghost := uuid.New()

	_, err := f.svc.RecordCompleted(context.Background(), manualGrant(ghost, 10, "ghost-1"))
	require.Error(t, err)
	assert.EqualValues(t, 0, f.paymentCount(t, ghost))
}

func TestRecordCompletedValidation(t *testing.T) {
	f := newPaymentsFixture(t)
	userID := f.seedUser(t, 0)
	ctx := context.Background()

	cases := []RecordInput{
		{Credits: 10, Method: enums.PaymentMethodManual},
		{UserID: userID, Credits: 0, Method: enums.PaymentMethodManual},
		{UserID: userID, Credits: 10, Method: "paypal"},
		{UserID: userID, Credits: 10, Method: enums.PaymentMethodManual, Amount: decimal.NewFromInt(-1)},
	}
	for _, input := range cases {
		_, err := f.svc.RecordCompleted(ctx, input)
		assert.ErrorIs(t, err, ErrInvalidPayment)
	}
}

func TestMarkCompletedCreditsOnce(t *testing.T) {
	f := newPaymentsFixture(t)
	ctx := context.Background()
	userID := f.seedUser(t, 50)

	pending, err := f.svc.RecordPending(ctx, RecordInput{
		UserID:        userID,
		Amount:        decimal.RequireFromString("22.50"),
		Credits:       250,
		Method:        enums.PaymentMethodCryptomus,
		TransactionID: "capsule_credits_abc",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, pending.Status)
	assert.Equal(t, 50, f.balance(t, userID))

	done, err := f.svc.MarkCompleted(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, done.Applied)
	assert.Equal(t, 300, done.Balance)

	again, err := f.svc.MarkCompleted(ctx, pending.ID)
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, 300, f.balance(t, userID))

	_, err = f.svc.MarkFailed(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.svc.FindByTransactionID(ctx, enums.PaymentMethodCryptomus, "capsule_credits_abc")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, 1, f.metrics.payments["cryptomus/completed"])
}

func TestMarkCompletedConcurrentReplays(t *testing.T) {
	f := newPaymentsFixture(t)
	ctx := context.Background()
	userID := f.seedUser(t, 0)

	pending, err := f.svc.RecordPending(ctx, RecordInput{
		UserID:        userID,
		Amount:        decimal.NewFromInt(10),
		Credits:       100,
		Method:        enums.PaymentMethodStripe,
		TransactionID: "pi_concurrent",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.MarkCompleted(ctx, pending.ID)
			if err != nil {
				t.Errorf("mark completed: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 100, f.balance(t, userID))
}

func TestMarkFailedLeavesBalance(t *testing.T) {
	f := newPaymentsFixture(t)
	ctx := context.Background()
	userID := f.seedUser(t, 5)

	pending, err := f.svc.RecordPending(ctx, RecordInput{
		UserID:        userID,
		Amount:        decimal.NewFromInt(10),
		Credits:       100,
		Method:        enums.PaymentMethodCryptomus,
		TransactionID: "capsule_credits_fail",
	})
	require.NoError(t, err)

	res, err := f.svc.MarkFailed(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, enums.PaymentStatusFailed, res.Payment.Status)

	replay, err := f.svc.MarkFailed(ctx, pending.ID)
	require.NoError(t, err)
	assert.False(t, replay.Applied)

	_, err = f.svc.MarkCompleted(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 5, f.balance(t, userID))

	_, err = f.svc.MarkFailed(ctx, 999999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordCompletedPromotesPendingRow(t *testing.T) {
	f := newPaymentsFixture(t)
	ctx := context.Background()
	userID := f.seedUser(t, 0)

	pending, err := f.svc.RecordPending(ctx, RecordInput{
		UserID:        userID,
		Amount:        decimal.NewFromInt(40),
		Credits:       500,
		Method:        enums.PaymentMethodStripe,
		TransactionID: "pi_promote",
	})
	require.NoError(t, err)

	res, err := f.svc.RecordCompleted(ctx, RecordInput{
		UserID:        userID,
		Amount:        decimal.NewFromInt(40),
		Credits:       500,
		Method:        enums.PaymentMethodStripe,
		TransactionID: "pi_promote",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, pending.ID, res.Payment.ID)
	assert.Equal(t, 500, f.balance(t, userID))
	assert.EqualValues(t, 1, f.paymentCount(t, userID))
}

func TestListByUser(t *testing.T) {
	f := newPaymentsFixture(t)
	ctx := context.Background()
	userID := f.seedUser(t, 0)
	other := f.seedUser(t, 0)

	for i := 0; i < 3; i++ {
		_, err := f.svc.RecordCompleted(ctx, manualGrant(userID, 10, fmt.Sprintf("grant-%d", i)))
		require.NoError(t, err)
	}
	_, err := f.svc.RecordCompleted(ctx, manualGrant(other, 10, "other"))
	require.NoError(t, err)

	rows, err := f.svc.ListByUser(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, userID, row.UserID)
	}

	_, err = f.svc.FindByTransactionID(ctx, enums.PaymentMethodManual, "  ")
	assert.True(t, errors.Is(err, ErrNotFound))
}
