package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/capsule-ai/capsule-backend/internal/credits"
	"github.com/capsule-ai/capsule-backend/internal/payments"
	"github.com/capsule-ai/capsule-backend/internal/users"
	pkgAuth "github.com/capsule-ai/capsule-backend/pkg/auth"
	"github.com/capsule-ai/capsule-backend/pkg/auth/session"
	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/security"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRevocations struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryRevocations) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	if !ok {
		return "", redislib.Nil
	}
	return val, nil
}

func (m *memoryRevocations) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRevocations) RevokedTokenKey(jti string) string { return "revoked:jti:" + jti }

func (m *memoryRevocations) RevokedUserKey(id string) string { return "revoked:user:" + id }

func newTestService(t *testing.T) Service {
	t.Helper()
	ctx := context.Background()

	client, err := db.New(ctx, config.DBConfig{
		Driver:     db.DriverSQLite,
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ledgerRepo := credits.NewRepository(client.DB())
	ledger, err := credits.NewService(client, ledgerRepo, nil)
	require.NoError(t, err)
	paymentSvc, err := payments.NewService(payments.ServiceParams{
		TransactionRunner: client,
		Repo:              payments.NewRepository(client.DB()),
		Ledger:            ledgerRepo,
	})
	require.NoError(t, err)

	issuer, err := pkgAuth.NewIssuer(config.JWTConfig{Secret: "test-secret", Issuer: "capsule-ai", LifetimeHours: 24})
	require.NoError(t, err)
	revoker, err := session.NewRevoker(&memoryRevocations{}, issuer.TTL())
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		UserRepo: users.NewRepository(client.DB()),
		Hasher: security.NewArgon2Hasher(config.PasswordConfig{
			ArgonMemoryKB:    8192,
			ArgonTime:        1,
			ArgonParallelism: 1,
		}),
		Tokens:         issuer,
		Revoker:        revoker,
		Credits:        ledger,
		Payments:       paymentSvc,
		PasswordConfig: config.PasswordConfig{MinLength: 8},
		CreditsConfig:  config.CreditsConfig{StartingCredits: 50, UsageWindowDays: 30, PricePerCredit: "0.10", Currency: "USD"},
	})
	require.NoError(t, err)
	return svc
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) *pkgerrors.Error {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected coded error, got %v", err)
	require.Equal(t, code, typed.Code())
	return typed
}

func TestDemoAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	registered, err := svc.Register(ctx, "demo@capsule-ai.com", "demo123456")
	require.NoError(t, err)
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "Bearer", registered.TokenType)
	assert.Equal(t, 50, registered.User.CreditsBalance)
	assert.Equal(t, enums.SubscriptionTierFree, registered.User.SubscriptionTier)

	login, err := svc.Authenticate(ctx, "demo@capsule-ai.com", "demo123456")
	require.NoError(t, err)
	user, _, err := svc.VerifyToken(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, user.ID)
	assert.NotNil(t, user.LastLogin)

	debit, err := svc.ConsumeCredits(ctx, ConsumeInput{UserID: user.ID, Amount: 2})
	require.NoError(t, err)
	assert.Equal(t, 48, debit.Balance)

	stats, err := svc.GetStats(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 48, stats.CreditsBalance)
	assert.Equal(t, 2, stats.TotalCreditsUsed)
	assert.Equal(t, 30, stats.PeriodDays)
	require.Contains(t, stats.UsageByAction, credits.DefaultAction)
	assert.Equal(t, 1, stats.UsageByAction[credits.DefaultAction].Count)
	assert.NotNil(t, stats.MemberSince)

	grant, err := svc.GrantCredits(ctx, GrantInput{
		UserID:        user.ID,
		Credits:       100,
		Method:        enums.PaymentMethodStripe,
		TransactionID: "pi_demo",
	})
	require.NoError(t, err)
	assert.True(t, grant.Applied)
	assert.Equal(t, 148, grant.Balance)
	assert.Equal(t, "10", grant.Amount.String())

	replay, err := svc.GrantCredits(ctx, GrantInput{
		UserID:        user.ID,
		Credits:       100,
		Method:        enums.PaymentMethodStripe,
		TransactionID: "pi_demo",
	})
	require.NoError(t, err)
	assert.False(t, replay.Applied)
	assert.Equal(t, 148, replay.Balance)
	assert.Equal(t, grant.PaymentID, replay.PaymentID)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Register(ctx, "not-an-email", "long-enough")
	typed := requireCode(t, err, pkgerrors.CodeValidation)
	assert.Equal(t, "invalid email format", typed.Message())

	_, err = svc.Register(ctx, "short@capsule-ai.com", "short")
	typed = requireCode(t, err, pkgerrors.CodeValidation)
	assert.Equal(t, "password must be at least 8 characters long", typed.Message())

	_, err = svc.Register(ctx, "dup@capsule-ai.com", "password123")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "dup@capsule-ai.com", "password456")
	typed = requireCode(t, err, pkgerrors.CodeConflict)
	assert.Equal(t, "email already registered", typed.Message())
}

func TestAuthenticateUniformFailure(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.Register(ctx, "user@capsule-ai.com", "password123")
	require.NoError(t, err)

	_, wrongPassword := svc.Authenticate(ctx, "user@capsule-ai.com", "password999")
	_, unknownEmail := svc.Authenticate(ctx, "ghost@capsule-ai.com", "password123")

	first := requireCode(t, wrongPassword, pkgerrors.CodeUnauthorized)
	second := requireCode(t, unknownEmail, pkgerrors.CodeUnauthorized)
	assert.Equal(t, first.Message(), second.Message())
	assert.Equal(t, "invalid email or password", first.Message())
}

func TestVerifyTokenRejections(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, _, err := svc.VerifyToken(ctx, "garbage")
	requireCode(t, err, pkgerrors.CodeUnauthorized)

	res, err := svc.Register(ctx, "gone@capsule-ai.com", "password123")
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, res.User.ID))

	_, _, err = svc.VerifyToken(ctx, res.Token)
	typed := requireCode(t, err, pkgerrors.CodeUnauthorized)
	assert.Equal(t, "invalid token", typed.Message())

	_, err = svc.Authenticate(ctx, "gone@capsule-ai.com", "password123")
	requireCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestLogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	res, err := svc.Register(ctx, "logout@capsule-ai.com", "password123")
	require.NoError(t, err)

	_, claims, err := svc.VerifyToken(ctx, res.Token)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, claims))

	_, _, err = svc.VerifyToken(ctx, res.Token)
	requireCode(t, err, pkgerrors.CodeUnauthorized)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	res, err := svc.Register(ctx, "rotate@capsule-ai.com", "password123")
	require.NoError(t, err)
	_, claims, err := svc.VerifyToken(ctx, res.Token)
	require.NoError(t, err)

	_, err = svc.ChangePassword(ctx, claims, "wrong-password", "new-password-1")
	typed := requireCode(t, err, pkgerrors.CodeValidation)
	assert.Equal(t, "current password is incorrect", typed.Message())

	_, err = svc.ChangePassword(ctx, claims, "password123", "short")
	typed = requireCode(t, err, pkgerrors.CodeValidation)
	assert.Equal(t, "new password must be at least 8 characters long", typed.Message())

	rotated, err := svc.ChangePassword(ctx, claims, "password123", "new-password-1")
	require.NoError(t, err)

	_, _, err = svc.VerifyToken(ctx, res.Token)
	requireCode(t, err, pkgerrors.CodeUnauthorized)
	_, _, err = svc.VerifyToken(ctx, rotated.Token)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "rotate@capsule-ai.com", "password123")
	requireCode(t, err, pkgerrors.CodeUnauthorized)
	_, err = svc.Authenticate(ctx, "rotate@capsule-ai.com", "new-password-1")
	require.NoError(t, err)
}

func TestChangePasswordRevokesSiblingTokensFromSameSecond(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	registered, err := svc.Register(ctx, "sibling@capsule-ai.com", "password123")
	require.NoError(t, err)
	login, err := svc.Authenticate(ctx, "sibling@capsule-ai.com", "password123")
	require.NoError(t, err)
	_, claims, err := svc.VerifyToken(ctx, login.Token)
	require.NoError(t, err)

	rotated, err := svc.ChangePassword(ctx, claims, "password123", "new-password-1")
	require.NoError(t, err)

	_, _, err = svc.VerifyToken(ctx, registered.Token)
	requireCode(t, err, pkgerrors.CodeUnauthorized)
	_, _, err = svc.VerifyToken(ctx, rotated.Token)
	require.NoError(t, err)
}

func TestRequestPasswordReset(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	res, err := svc.Register(ctx, "reset@capsule-ai.com", "password123")
	require.NoError(t, err)

	known, err := svc.RequestPasswordReset(ctx, "reset@capsule-ai.com")
	require.NoError(t, err)
	assert.True(t, known.Send)
	assert.Equal(t, res.User.ID, known.UserID)

	unknown, err := svc.RequestPasswordReset(ctx, "nobody@capsule-ai.com")
	require.NoError(t, err)
	assert.False(t, unknown.Send)
}

func TestLedgerValidationMessages(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	res, err := svc.Register(ctx, "messages@capsule-ai.com", "password123")
	require.NoError(t, err)

	_, err = svc.ConsumeCredits(ctx, ConsumeInput{UserID: res.User.ID, Amount: -3})
	typed := requireCode(t, err, pkgerrors.CodeValidation)
	assert.Equal(t, "amount must be positive", typed.Message())

	_, err = svc.GrantCredits(ctx, GrantInput{UserID: res.User.ID, Credits: 5, Method: enums.PaymentMethod("barter")})
	typed = requireCode(t, err, pkgerrors.CodeValidation)
	assert.Equal(t, "invalid payment details", typed.Message())
}

func TestConsumeCreditsInsufficient(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	res, err := svc.Register(ctx, "broke@capsule-ai.com", "password123")
	require.NoError(t, err)

	_, err = svc.ConsumeCredits(ctx, ConsumeInput{UserID: res.User.ID, Amount: 51})
	typed := requireCode(t, err, pkgerrors.CodeInsufficientCredits)
	assert.Equal(t, map[string]int{"credits_balance": 50, "required": 51}, typed.Details())

	_, err = svc.ConsumeCredits(ctx, ConsumeInput{UserID: res.User.ID, Amount: -1})
	requireCode(t, err, pkgerrors.CodeValidation)

	debit, err := svc.ConsumeCredits(ctx, ConsumeInput{UserID: res.User.ID})
	require.NoError(t, err)
	assert.Equal(t, 49, debit.Balance)
}

func TestGrantCreditsManual(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	res, err := svc.Register(ctx, "manual@capsule-ai.com", "password123")
	require.NoError(t, err)

	first, err := svc.GrantCredits(ctx, GrantInput{UserID: res.User.ID, Credits: 25})
	require.NoError(t, err)
	second, err := svc.GrantCredits(ctx, GrantInput{UserID: res.User.ID, Credits: 25})
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.True(t, second.Applied)
	assert.Equal(t, 100, second.Balance)
	assert.Equal(t, "2.5", second.Amount.String())

	_, err = svc.GrantCredits(ctx, GrantInput{UserID: res.User.ID, Credits: 0})
	requireCode(t, err, pkgerrors.CodeValidation)
	_, err = svc.GrantCredits(ctx, GrantInput{UserID: uuid.New(), Credits: 5})
	requireCode(t, err, pkgerrors.CodeNotFound)
}
