package cryptomus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/config"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
)

const (
	createPaymentPath            = "v1/payment"
	paymentInfoPath              = "v1/payment/info"
	responseBodyReadLimit  int64 = 1024
	defaultInvoiceLifetime       = 3600
)

var (
	errMerchantRequired = errors.New("cryptomus merchant id is required")
	errAPIKeyRequired   = errors.New("cryptomus api key is required")
)

// Client talks to the Cryptomus merchant API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	merchantID  string
	apiKey      string
	returnURL   string
	callbackURL string
	lifetime    int
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a client from the merchant configuration.
func NewClient(cfg config.CryptomusConfig, opts ...Option) (*Client, error) {
	merchantID := strings.TrimSpace(cfg.MerchantID)
	if merchantID == "" {
		return nil, errMerchantRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	lifetime := cfg.Lifetime
	if lifetime <= 0 {
		lifetime = defaultInvoiceLifetime
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.Endpoint(),
		merchantID:  merchantID,
		apiKey:      apiKey,
		returnURL:   strings.TrimSpace(cfg.ReturnURL),
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		lifetime:    lifetime,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// APIKey exposes the signing key shared with webhook verification.
func (c *Client) APIKey() string {
	if c == nil {
		return ""
	}
	return c.apiKey
}

// CreatePaymentRequest is the invoice payload sent to /v1/payment.
type CreatePaymentRequest struct {
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	OrderID           string `json:"order_id"`
	URLReturn         string `json:"url_return,omitempty"`
	URLCallback       string `json:"url_callback,omitempty"`
	IsPaymentMultiple bool   `json:"is_payment_multiple"`
	Lifetime          int    `json:"lifetime"`
	AdditionalData    string `json:"additional_data,omitempty"`
}

// Payment is the invoice returned by the API.
type Payment struct {
	UUID          string `json:"uuid"`
	OrderID       string `json:"order_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentStatus string `json:"payment_status"`
	Status        string `json:"status"`
	URL           string `json:"url"`
	ExpiredAt     int64  `json:"expired_at"`
	IsFinal       bool   `json:"is_final"`
}

// StatusValue prefers payment_status and falls back to status.
func (p Payment) StatusValue() string {
	if p.PaymentStatus != "" {
		return p.PaymentStatus
	}
	return p.Status
}

type envelope struct {
	State   int             `json:"state"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// CreatePayment opens an invoice. Empty return, callback and lifetime fields
// are filled from configuration.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cryptomus client not configured")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if strings.TrimSpace(req.Amount) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount is required")
	}
	if req.URLReturn == "" {
		req.URLReturn = c.returnURL
	}
	if req.URLCallback == "" {
		req.URLCallback = c.callbackURL
	}
	if req.Lifetime <= 0 {
		req.Lifetime = c.lifetime
	}

	var payment Payment
	if err := c.post(ctx, createPaymentPath, req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// PaymentInfo fetches the current state of an invoice by provider uuid or order id.
func (c *Client) PaymentInfo(ctx context.Context, paymentUUID, orderID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cryptomus client not configured")
	}
	payload := map[string]string{}
	if v := strings.TrimSpace(paymentUUID); v != "" {
		payload["uuid"] = v
	}
	if v := strings.TrimSpace(orderID); v != "" {
		payload["order_id"] = v
	}
	if len(payload) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment uuid or order id is required")
	}

	var payment Payment
	if err := c.post(ctx, paymentInfoPath, payload, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal cryptomus request")
	}
	body, err := Canonicalize(raw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "canonicalize cryptomus request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build cryptomus request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("merchant", c.merchantID)
	httpReq.Header.Set("sign", Sign(c.apiKey, body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute cryptomus request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "cryptomus request failed")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode cryptomus response")
	}
	if env.State != 0 || len(env.Result) == 0 || string(env.Result) == "null" {
		message := env.Message
		if message == "" {
			message = "empty result"
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New(message), "cryptomus rejected request")
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode cryptomus result")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
}
