package payments

import (
	"context"
	"encoding/json"

	"github.com/capsule-ai/capsule-backend/pkg/cryptomus"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgstripe "github.com/capsule-ai/capsule-backend/pkg/stripe"
	"github.com/stripe/stripe-go/v84"
)

const productName = "Capsule AI Credits"

type cryptomusInvoicer interface {
	CreatePayment(ctx context.Context, req cryptomus.CreatePaymentRequest) (*cryptomus.Payment, error)
}

type stripeIntents interface {
	CreatePaymentIntent(ctx context.Context, req pkgstripe.PaymentIntentRequest) (*stripe.PaymentIntent, error)
}

// CryptomusGateway opens crypto invoices.
type CryptomusGateway struct {
	client cryptomusInvoicer
}

// NewCryptomusGateway returns nil when no client is configured.
func NewCryptomusGateway(client cryptomusInvoicer) Gateway {
	if client == nil {
		return nil
	}
	return &CryptomusGateway{client: client}
}

func (g *CryptomusGateway) Method() enums.PaymentMethod { return enums.PaymentMethodCryptomus }

func (g *CryptomusGateway) CreatePayment(ctx context.Context, req GatewayRequest) (*GatewayResponse, error) {
	extra, err := json.Marshal(map[string]any{
		"credits_amount": req.Credits,
		"product":        productName,
		"user_id":        req.UserID.String(),
	})
	if err != nil {
		return nil, err
	}
	invoice, err := g.client.CreatePayment(ctx, cryptomus.CreatePaymentRequest{
		Amount:         req.Amount.StringFixed(2),
		Currency:       req.Currency,
		OrderID:        req.Reference,
		AdditionalData: string(extra),
	})
	if err != nil {
		return nil, err
	}
	return &GatewayResponse{ProviderID: invoice.UUID, CheckoutURL: invoice.URL}, nil
}

// StripeGateway opens card payment intents.
type StripeGateway struct {
	client stripeIntents
}

// NewStripeGateway returns nil when no client is configured.
func NewStripeGateway(client stripeIntents) Gateway {
	if client == nil {
		return nil
	}
	return &StripeGateway{client: client}
}

func (g *StripeGateway) Method() enums.PaymentMethod { return enums.PaymentMethodStripe }

func (g *StripeGateway) CreatePayment(ctx context.Context, req GatewayRequest) (*GatewayResponse, error) {
	intent, err := g.client.CreatePaymentIntent(ctx, pkgstripe.PaymentIntentRequest{
		AmountCents: req.Amount.Shift(2).Round(0).IntPart(),
		Currency:    req.Currency,
		Credits:     req.Credits,
		UserID:      req.UserID.String(),
		Reference:   req.Reference,
	})
	if err != nil {
		return nil, err
	}
	return &GatewayResponse{ProviderID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}
