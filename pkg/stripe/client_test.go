package stripe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/capsule-ai/capsule-backend/pkg/config"
)

func TestNewClientValidatesEnvironment(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
	}{
		{"missing key", config.StripeConfig{WebhookSecret: "whsec"}},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123"}},
		{"live key in test", config.StripeConfig{APIKey: "sk_live_123", WebhookSecret: "whsec"}},
		{"test key in live", config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: "whsec", Env: "live"}},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: "whsec", Env: "staging"}},
	}
	for _, tc := range cases {
		if _, err := NewClient(context.Background(), tc.cfg, nil); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: "whsec_test"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Environment() != "test" || client.SigningSecret() != "whsec_test" {
		t.Fatalf("unexpected client %+v", client)
	}
	if client.Tolerance() != 5*time.Minute {
		t.Fatalf("expected default tolerance, got %v", client.Tolerance())
	}
}

func TestCreatePaymentIntentMetadata(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: "whsec_test",
		ProductLabel:  "capsule_ai_credits",
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var captured *stripe.PaymentIntentParams
	client.createIntent = func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		captured = params
		return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
	}

	intent, err := client.CreatePaymentIntent(context.Background(), PaymentIntentRequest{
		AmountCents: 1000,
		Currency:    "USD",
		Credits:     100,
		UserID:      "user-1",
		Reference:   "capsule_credits_1",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pi_123" {
		t.Fatalf("unexpected intent %s", intent.ID)
	}
	if *captured.Amount != 1000 || *captured.Currency != "usd" {
		t.Fatalf("unexpected amount/currency %d %s", *captured.Amount, *captured.Currency)
	}
	want := map[string]string{
		MetadataCreditsAmount:    "100",
		MetadataProduct:          "capsule_ai_credits",
		MetadataUserID:           "user-1",
		MetadataPaymentReference: "capsule_credits_1",
	}
	for key, value := range want {
		if captured.Metadata[key] != value {
			t.Fatalf("metadata %s: expected %q, got %q", key, value, captured.Metadata[key])
		}
	}
}

func TestCreatePaymentIntentErrors(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_123", WebhookSecret: "whsec_test"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 0}); err == nil {
		t.Fatal("expected zero amount to fail")
	}

	client.createIntent = func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return nil, errors.New("api down")
	}
	if _, err := client.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 100}); err == nil {
		t.Fatal("expected provider error")
	}

	var nilClient *Client
	if _, err := nilClient.CreatePaymentIntent(context.Background(), PaymentIntentRequest{AmountCents: 100}); err == nil {
		t.Fatal("expected nil client error")
	}
}
