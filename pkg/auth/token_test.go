package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func testIssuer(t *testing.T, secret string) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(config.JWTConfig{Secret: secret, Issuer: "capsule-ai", LifetimeHours: 24})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestIssueAndVerify(t *testing.T) {
	issuer := testIssuer(t, "secret")
	userID := uuid.New()

	token, issued, err := issuer.Issue(Subject{UserID: userID, Email: "demo@capsule-ai.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.Email != "demo@capsule-ai.com" {
		t.Fatalf("unexpected email %q", claims.Email)
	}
	if claims.ID == "" || claims.ID != issued.ID {
		t.Fatalf("expected jti %q to round-trip, got %q", issued.ID, claims.ID)
	}
	if claims.Issuer != "capsule-ai" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}

	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != 24*time.Hour {
		t.Fatalf("expected 24h lifetime, got %v", lifetime)
	}
}

func TestIssueAssignsUniqueJTI(t *testing.T) {
	issuer := testIssuer(t, "secret")
	subject := Subject{UserID: uuid.New()}

	_, first, err := issuer.Issue(subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, second, err := issuer.Issue(subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected distinct token ids")
	}
}

func TestVerifyTamperedToken(t *testing.T) {
	issuer := testIssuer(t, "secret")
	token, _, err := issuer.Issue(Subject{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := issuer.Verify(token + "x"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := testIssuer(t, "other-secret").Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for a foreign secret, got %v", err)
	}
	if _, err := issuer.Verify(""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for empty token, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	issuer := testIssuer(t, "secret")
	issuer.now = func() time.Time { return time.Now().Add(-25 * time.Hour) }

	token, _, err := issuer.Issue(Subject{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	issuer.now = time.Now
	_, err = issuer.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatal("expired token should not also report invalid")
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	issuer := testIssuer(t, "secret")
	now := time.Now()
	claims := AccessTokenClaims{
		UserID: uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "capsule-ai",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.NewString(),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	if _, err := issuer.Verify(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected none algorithm to be rejected, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	foreign, err := NewIssuer(config.JWTConfig{Secret: "secret", Issuer: "someone-else"})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, _, err := foreign.Issue(Subject{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := testIssuer(t, "secret").Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected issuer mismatch to be invalid, got %v", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(config.JWTConfig{Issuer: "capsule-ai"}); err == nil {
		t.Fatal("expected missing secret error")
	}
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if len(secret) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(secret))
	}
}

func TestIssueRequiresUser(t *testing.T) {
	if _, _, err := testIssuer(t, "secret").Issue(Subject{}); err == nil {
		t.Fatal("expected missing user id error")
	}
}

func TestIssueCarriesSubSecondIssueTime(t *testing.T) {
	issuer := testIssuer(t, "secret")
	at := time.Unix(1_700_000_000, 123_456_789).UTC()
	issuer.now = func() time.Time { return at }

	token, _, err := issuer.Issue(Subject{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !claims.IssuedTime().Equal(at) {
		t.Fatalf("expected issue time %v, got %v", at, claims.IssuedTime())
	}
	if claims.IssuedAt.Unix() != at.Unix() {
		t.Fatalf("expected iat second %d, got %d", at.Unix(), claims.IssuedAt.Unix())
	}
}
