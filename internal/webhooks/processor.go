package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/capsule-ai/capsule-backend/internal/payments"
	"github.com/capsule-ai/capsule-backend/pkg/db/models"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	pkgstripe "github.com/capsule-ai/capsule-backend/pkg/stripe"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
)

// Outcome actions.
const (
	ActionCompleted = "completed"
	ActionFailed    = "failed"
	ActionReplayed  = "replayed"
	ActionIgnored   = "ignored"
)

var (
	cryptomusPaidStatuses = map[string]bool{
		"paid":      true,
		"paid_over": true,
	}
	cryptomusFailedStatuses = map[string]bool{
		"fail":         true,
		"cancel":       true,
		"system_fail":  true,
		"wrong_amount": true,
	}
)

// Outcome describes what a verified event did to the payment ledger.
type Outcome struct {
	Provider  enums.PaymentMethod `json:"provider"`
	EventID   string              `json:"event_id"`
	Action    string              `json:"action"`
	PaymentID int64               `json:"payment_id,omitempty"`
	Balance   int                 `json:"credits_balance,omitempty"`
}

// CryptomusCallback is the subset of the invoice callback body we act on.
type CryptomusCallback struct {
	Type           string `json:"type"`
	UUID           string `json:"uuid"`
	OrderID        string `json:"order_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	IsFinal        bool   `json:"is_final"`
	AdditionalData string `json:"additional_data"`
}

// EventID keys provider retries of the same status change.
func (c CryptomusCallback) EventID() string {
	id := c.UUID
	if id == "" {
		id = c.OrderID
	}
	return id + ":" + c.Status
}

// ParseCryptomusCallback decodes a verified callback body.
func ParseCryptomusCallback(body []byte) (*CryptomusCallback, error) {
	var cb CryptomusCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode cryptomus callback")
	}
	cb.Status = strings.ToLower(strings.TrimSpace(cb.Status))
	if cb.OrderID == "" || cb.Status == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cryptomus callback missing order_id or status")
	}
	return &cb, nil
}

// Processor applies verified provider events to the payment recorder.
type Processor struct {
	payments payments.Service
	logg     *logger.Logger
}

func NewProcessor(svc payments.Service, logg *logger.Logger) (*Processor, error) {
	if svc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	return &Processor{payments: svc, logg: logg}, nil
}

// HandleCryptomus completes or fails the pending payment named by order_id.
func (p *Processor) HandleCryptomus(ctx context.Context, cb *CryptomusCallback) (*Outcome, error) {
	if cb == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cryptomus callback required")
	}
	outcome := &Outcome{Provider: enums.PaymentMethodCryptomus, EventID: cb.EventID(), Action: ActionIgnored}

	paid := cryptomusPaidStatuses[cb.Status]
	failed := cryptomusFailedStatuses[cb.Status]
	if !paid && !failed {
		return outcome, nil
	}

	payment, err := p.payments.FindByTransactionID(ctx, enums.PaymentMethodCryptomus, cb.OrderID)
	if errors.Is(err, payments.ErrNotFound) {
		p.warn(ctx, enums.PaymentMethodCryptomus, fmt.Sprintf("cryptomus callback for unknown order %s", cb.OrderID))
		return outcome, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	if paid {
		return p.complete(ctx, outcome, payment.ID)
	}
	return p.fail(ctx, outcome, payment.ID)
}

// HandleStripe applies payment_intent lifecycle events.
func (p *Processor) HandleStripe(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	outcome := &Outcome{Provider: enums.PaymentMethodStripe, EventID: event.ID, Action: ActionIgnored}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:
	default:
		return outcome, nil
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}

	payment, err := p.findStripePayment(ctx, &intent)
	switch {
	case errors.Is(err, payments.ErrNotFound):
		payment = nil
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		if payment == nil {
			return outcome, nil
		}
		return p.fail(ctx, outcome, payment.ID)
	}
	if payment != nil {
		return p.complete(ctx, outcome, payment.ID)
	}
	return p.recordStripeIntent(ctx, outcome, &intent)
}

// findStripePayment prefers the checkout reference and falls back to the intent id.
func (p *Processor) findStripePayment(ctx context.Context, intent *stripe.PaymentIntent) (*models.Payment, error) {
	if ref := intent.Metadata[pkgstripe.MetadataPaymentReference]; ref != "" {
		payment, err := p.payments.FindByTransactionID(ctx, enums.PaymentMethodStripe, ref)
		if !errors.Is(err, payments.ErrNotFound) {
			return payment, err
		}
	}
	return p.payments.FindByTransactionID(ctx, enums.PaymentMethodStripe, intent.ID)
}

// recordStripeIntent grants credits for an intent created outside checkout,
// keyed on the intent id so redelivery cannot double credit.
func (p *Processor) recordStripeIntent(ctx context.Context, outcome *Outcome, intent *stripe.PaymentIntent) (*Outcome, error) {
	userID, err := uuid.Parse(intent.Metadata[pkgstripe.MetadataUserID])
	if err != nil {
		p.warn(ctx, enums.PaymentMethodStripe, fmt.Sprintf("payment intent %s has no user_id metadata", intent.ID))
		return outcome, nil
	}
	credits, err := strconv.Atoi(intent.Metadata[pkgstripe.MetadataCreditsAmount])
	if err != nil || credits <= 0 {
		p.warn(ctx, enums.PaymentMethodStripe, fmt.Sprintf("payment intent %s has no credits_amount metadata", intent.ID))
		return outcome, nil
	}

	res, err := p.payments.RecordCompleted(ctx, payments.RecordInput{
		UserID:        userID,
		Amount:        decimal.New(intent.Amount, -2),
		Currency:      string(intent.Currency),
		Credits:       credits,
		Method:        enums.PaymentMethodStripe,
		TransactionID: intent.ID,
	})
	if err != nil {
		return nil, mapPaymentError(err)
	}
	return applyResult(outcome, res, ActionCompleted), nil
}

func (p *Processor) complete(ctx context.Context, outcome *Outcome, paymentID int64) (*Outcome, error) {
	res, err := p.payments.MarkCompleted(ctx, paymentID)
	if err != nil {
		return nil, mapPaymentError(err)
	}
	return applyResult(outcome, res, ActionCompleted), nil
}

func (p *Processor) fail(ctx context.Context, outcome *Outcome, paymentID int64) (*Outcome, error) {
	res, err := p.payments.MarkFailed(ctx, paymentID)
	if errors.Is(err, payments.ErrInvalidTransition) {
		p.warn(ctx, outcome.Provider, fmt.Sprintf("ignoring failure for settled payment %d", paymentID))
		outcome.PaymentID = paymentID
		return outcome, nil
	}
	if err != nil {
		return nil, mapPaymentError(err)
	}
	return applyResult(outcome, res, ActionFailed), nil
}

func applyResult(outcome *Outcome, res *payments.Result, action string) *Outcome {
	outcome.Action = action
	if !res.Applied {
		outcome.Action = ActionReplayed
	}
	if res.Payment != nil {
		outcome.PaymentID = res.Payment.ID
	}
	outcome.Balance = res.Balance
	return outcome
}

func mapPaymentError(err error) error {
	switch {
	case errors.Is(err, payments.ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "payment not found")
	case errors.Is(err, payments.ErrInvalidTransition):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "payment already settled")
	case errors.Is(err, payments.ErrInvalidPayment):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment")
	}
}

func (p *Processor) warn(ctx context.Context, provider enums.PaymentMethod, msg string) {
	if p.logg == nil {
		return
	}
	p.logg.Warn(p.logg.WithProvider(ctx, provider.String()), msg)
}
