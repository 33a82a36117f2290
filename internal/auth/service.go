package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/internal/credits"
	"github.com/capsule-ai/capsule-backend/internal/payments"
	"github.com/capsule-ai/capsule-backend/internal/users"
	pkgAuth "github.com/capsule-ai/capsule-backend/pkg/auth"
	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/capsule-ai/capsule-backend/pkg/security"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	invalidCredentialsMessage = "invalid email or password"
	invalidTokenMessage       = "invalid token"
	invalidEmailMessage       = "invalid email format"
	wrongPasswordMessage      = "current password is incorrect"
	defaultConsumeAmount      = 1
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Service orchestrates credentials, tokens and the credit ledger.
type Service interface {
	Register(ctx context.Context, email, password string) (*AuthResult, error)
	Authenticate(ctx context.Context, email, password string) (*AuthResult, error)
	VerifyToken(ctx context.Context, token string) (*users.UserDTO, *pkgAuth.AccessTokenClaims, error)
	Logout(ctx context.Context, claims *pkgAuth.AccessTokenClaims) error
	ChangePassword(ctx context.Context, claims *pkgAuth.AccessTokenClaims, oldPassword, newPassword string) (*AuthResult, error)
	RequestPasswordReset(ctx context.Context, email string) (*ResetDecision, error)
	Deactivate(ctx context.Context, userID uuid.UUID) error
	Profile(ctx context.Context, userID uuid.UUID) (*users.UserDTO, error)
	ConsumeCredits(ctx context.Context, input ConsumeInput) (*credits.DebitResult, error)
	GrantCredits(ctx context.Context, input GrantInput) (*GrantResult, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*Stats, error)
}

type userRepository interface {
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type tokenIssuer interface {
	Issue(subject pkgAuth.Subject) (string, *pkgAuth.AccessTokenClaims, error)
	Verify(token string) (*pkgAuth.AccessTokenClaims, error)
}

type tokenRevoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	RevokeUser(ctx context.Context, userID string, at time.Time) error
	IsRevoked(ctx context.Context, claims *pkgAuth.AccessTokenClaims) (bool, error)
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	UserRepo       userRepository
	Hasher         security.Hasher
	Tokens         tokenIssuer
	Revoker        tokenRevoker
	Credits        credits.Service
	Payments       payments.Service
	PasswordConfig config.PasswordConfig
	CreditsConfig  config.CreditsConfig
	Logger         *logger.Logger
}

type service struct {
	users          userRepository
	hasher         security.Hasher
	tokens         tokenIssuer
	revoker        tokenRevoker
	credits        credits.Service
	payments       payments.Service
	minPassword    int
	startCredits   int
	usageWindow    int
	pricePerCredit decimal.Decimal
	currency       string
	dummyHash      string
	logg           *logger.Logger
	now            func() time.Time
}

// NewService constructs the auth service. A nil Revoker disables server-side
// token revocation.
func NewService(params ServiceParams) (Service, error) {
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credits service is required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service is required")
	}
	price, err := params.CreditsConfig.Price()
	if err != nil {
		return nil, err
	}
	dummy, err := params.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	minPassword := params.PasswordConfig.MinLength
	if minPassword <= 0 {
		minPassword = 8
	}
	currency := strings.ToUpper(strings.TrimSpace(params.CreditsConfig.Currency))
	if currency == "" {
		currency = payments.DefaultCurrency
	}

	return &service{
		users:          params.UserRepo,
		hasher:         params.Hasher,
		tokens:         params.Tokens,
		revoker:        params.Revoker,
		credits:        params.Credits,
		payments:       params.Payments,
		minPassword:    minPassword,
		startCredits:   params.CreditsConfig.StartingCredits,
		usageWindow:    params.CreditsConfig.UsageWindowDays,
		pricePerCredit: price,
		currency:       currency,
		dummyHash:      dummy,
		logg:           params.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, invalidEmailMessage)
	}
	if err := security.ValidatePasswordPolicy(password, s.minPassword); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, err.Error())
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	user, err := s.users.Create(ctx, users.CreateUserDTO{
		Email:            email,
		PasswordHash:     hash,
		StartingCredits:  s.startCredits,
		SubscriptionTier: enums.SubscriptionTierFree,
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create user")
	}

	return s.issue(user)
}

func (s *service) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
		}
		s.hasher.Verify(password, s.dummyHash)
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update last login")
	}
	user.LastLogin = &now

	return s.issue(user)
}

// VerifyToken resolves a bearer token to its active user. Every failure
// surfaces the same unauthorized message; the reason is logged.
func (s *service) VerifyToken(ctx context.Context, token string) (*users.UserDTO, *pkgAuth.AccessTokenClaims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		s.debug(ctx, fmt.Sprintf("token rejected: %v", err))
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, invalidTokenMessage)
	}

	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check token revocation")
		}
		if revoked {
			s.debug(ctx, "token rejected: revoked")
			return nil, nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidTokenMessage)
		}
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidTokenMessage)
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	return users.FromModel(user), claims, nil
}

func (s *service) Logout(ctx context.Context, claims *pkgAuth.AccessTokenClaims) error {
	if claims == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, invalidTokenMessage)
	}
	if s.revoker == nil || claims.ExpiresAt == nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke token")
	}
	return nil
}

// ChangePassword replaces the hash, revokes the presented token and every
// token issued in an earlier second. The returned token keeps the caller
// signed in.
func (s *service) ChangePassword(ctx context.Context, claims *pkgAuth.AccessTokenClaims, oldPassword, newPassword string) (*AuthResult, error) {
	if claims == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidTokenMessage)
	}
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidTokenMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, wrongPasswordMessage)
	}
	if err := security.ValidatePasswordPolicy(newPassword, s.minPassword); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "new "+err.Error())
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update password")
	}
	if s.revoker != nil {
		if err := s.revoker.RevokeUser(ctx, user.ID.String(), s.now()); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke tokens")
		}
	}
	if err := s.Logout(ctx, claims); err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	return s.issue(user)
}

func (s *service) RequestPasswordReset(ctx context.Context, email string) (*ResetDecision, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return &ResetDecision{}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	return &ResetDecision{Send: true, UserID: user.ID}, nil
}

func (s *service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.Deactivate(ctx, userID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate user")
	}
	if s.revoker != nil {
		if err := s.revoker.RevokeUser(ctx, userID.String(), s.now().Add(time.Second)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke tokens")
		}
	}
	return nil
}

func (s *service) Profile(ctx context.Context, userID uuid.UUID) (*users.UserDTO, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	return users.FromModel(user), nil
}

func (s *service) ConsumeCredits(ctx context.Context, input ConsumeInput) (*credits.DebitResult, error) {
	amount := input.Amount
	if amount == 0 {
		amount = defaultConsumeAmount
	}
	action := strings.TrimSpace(input.Action)
	if action == "" {
		action = credits.DefaultAction
	}
	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{"type": "image_generation"}
	}

	res, err := s.credits.Debit(ctx, credits.DebitInput{
		UserID:   input.UserID,
		Amount:   amount,
		Action:   action,
		Metadata: metadata,
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return res, nil
}

// GrantCredits records a completed payment priced at the per-credit rate and
// credits the user in the same transaction.
func (s *service) GrantCredits(ctx context.Context, input GrantInput) (*GrantResult, error) {
	if input.Credits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "credits must be positive")
	}
	if _, err := s.users.FindByID(ctx, input.UserID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	method := input.Method
	if method == "" {
		method = enums.PaymentMethodManual
	}

	amount := s.pricePerCredit.Mul(decimal.NewFromInt(int64(input.Credits)))
	res, err := s.payments.RecordCompleted(ctx, payments.RecordInput{
		UserID:        input.UserID,
		Amount:        amount,
		Currency:      s.currency,
		Credits:       input.Credits,
		Method:        method,
		TransactionID: input.TransactionID,
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return &GrantResult{
		PaymentID: res.Payment.ID,
		Applied:   res.Applied,
		Amount:    res.Payment.Amount,
		Balance:   res.Balance,
	}, nil
}

func (s *service) GetStats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}
	usage, err := s.credits.UsageStats(ctx, userID, s.usageWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load usage stats")
	}

	stats := &Stats{
		CreditsBalance:   user.CreditsBalance,
		SubscriptionTier: user.SubscriptionTier,
		TotalCreditsUsed: usage.TotalCreditsUsed,
		UsageByAction:    usage.UsageByAction,
		PeriodDays:       usage.PeriodDays,
		LastLogin:        user.LastLogin,
	}
	if !user.CreatedAt.IsZero() {
		created := user.CreatedAt
		stats.MemberSince = &created
	}
	return stats, nil
}

func (s *service) issue(user *models.User) (*AuthResult, error) {
	token, claims, err := s.tokens.Issue(pkgAuth.Subject{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue token")
	}
	return &AuthResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.Time,
		User:      users.FromModel(user),
	}, nil
}

func (s *service) debug(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Debug(ctx, msg)
	}
}

func mapLedgerError(err error) error {
	var insufficient *credits.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientCredits, err, "insufficient credits").
			WithDetails(map[string]int{"credits_balance": insufficient.Balance, "required": insufficient.Required})
	case errors.Is(err, credits.ErrInsufficientCredits):
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientCredits, err, "insufficient credits")
	case errors.Is(err, credits.ErrInvalidAmount):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be positive")
	case errors.Is(err, payments.ErrInvalidPayment):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment details")
	case errors.Is(err, credits.ErrUserNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "user not found")
	case errors.Is(err, payments.ErrDuplicateTransaction):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction already recorded")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update credits")
	}
}
