package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultTolerance = 5 * time.Minute
)

// Metadata keys stamped on every payment intent.
const (
	MetadataCreditsAmount    = "credits_amount"
	MetadataProduct          = "product"
	MetadataUserID           = "user_id"
	MetadataPaymentReference = "payment_reference"
)

var (
	errAPIKeyRequired   = errors.New("CAPSULE_STRIPE_API_KEY is required")
	errSecretRequired   = errors.New("CAPSULE_STRIPE_WEBHOOK_SECRET is required")
	errInvalidStripeEnv = fmt.Errorf("stripe mode must be %q or %q", testEnv, liveEnv)
)

type intentCreator func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)

// Client wraps Stripe's API plus env-specific metadata.
type Client struct {
	environment   string
	signingSecret string
	tolerance     time.Duration
	product       string
	description   string
	createIntent  intentCreator
}

// NewClient configures the process-wide Stripe key and returns the client
// used for checkout intents and webhook verification settings.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey
	if cfg.Timeout > 0 {
		stripe.SetHTTPClient(&http.Client{Timeout: cfg.Timeout})
	}

	logg.Info(logg.WithField(ctx, "stripe_mode", env), "stripe client ready")

	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	return &Client{
		environment:   env,
		signingSecret: signingSecret,
		tolerance:     tolerance,
		product:       strings.TrimSpace(cfg.ProductLabel),
		description:   strings.TrimSpace(cfg.StatementTitle),
		createIntent:  paymentintent.New,
	}, nil
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// Tolerance is the accepted webhook timestamp skew.
func (c *Client) Tolerance() time.Duration {
	if c == nil || c.tolerance <= 0 {
		return defaultTolerance
	}
	return c.tolerance
}

// PaymentIntentRequest describes a one-off credit purchase.
type PaymentIntentRequest struct {
	AmountCents int64
	Currency    string
	Credits     int
	UserID      string
	Reference   string
}

// CreatePaymentIntent opens a payment intent carrying the credit metadata the
// webhook processor reads back.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*stripe.PaymentIntent, error) {
	if c == nil || c.createIntent == nil {
		return nil, errors.New("stripe client not configured")
	}
	if req.AmountCents <= 0 {
		return nil, errors.New("payment intent amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if c.description != "" {
		params.Description = stripe.String(c.description)
	}
	params.Context = ctx
	params.AddMetadata(MetadataCreditsAmount, fmt.Sprintf("%d", req.Credits))
	if c.product != "" {
		params.AddMetadata(MetadataProduct, c.product)
	}
	if req.UserID != "" {
		params.AddMetadata(MetadataUserID, req.UserID)
	}
	if req.Reference != "" {
		params.AddMetadata(MetadataPaymentReference, req.Reference)
	}

	return c.createIntent(params)
}

// keyPrefixes lists the secret and restricted key prefixes each
// environment accepts.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

func normalizeEnv(raw string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return testEnv, nil
	}
	if _, ok := keyPrefixes[env]; !ok {
		return "", errInvalidStripeEnv
	}
	return env, nil
}

// validateAPIKey refuses a live key in test mode and vice versa.
func validateAPIKey(env, key string) error {
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return errInvalidStripeEnv
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s mode needs a key starting with %s", env, strings.Join(prefixes, " or "))
}
