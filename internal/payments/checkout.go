package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	referencePrefix       = "capsule_credits_"
)

// GatewayRequest is what a provider needs to open a payment.
type GatewayRequest struct {
	Reference string
	UserID    uuid.UUID
	PackageID string
	Credits   int
	Amount    decimal.Decimal
	Currency  string
}

// GatewayResponse carries what the client needs to finish paying.
type GatewayResponse struct {
	ProviderID   string
	CheckoutURL  string
	ClientSecret string
}

// Gateway opens a payment with one provider.
type Gateway interface {
	Method() enums.PaymentMethod
	CreatePayment(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
}

// GatewayObserver records provider latency.
type GatewayObserver interface {
	ObserveGateway(provider string, duration time.Duration)
}

// CheckoutSession is returned to the client after a provider accepted the payment.
type CheckoutSession struct {
	PaymentID    int64               `json:"payment_id"`
	Reference    string              `json:"reference"`
	Method       enums.PaymentMethod `json:"payment_method"`
	Package      Package             `json:"package"`
	ProviderID   string              `json:"provider_payment_id,omitempty"`
	CheckoutURL  string              `json:"checkout_url,omitempty"`
	ClientSecret string              `json:"client_secret,omitempty"`
}

// CheckoutParams wires the checkout flow.
type CheckoutParams struct {
	Payments Service
	Gateways []Gateway
	// Timeout bounds provider calls without an entry in Timeouts.
	Timeout  time.Duration
	Timeouts map[enums.PaymentMethod]time.Duration
	Metrics  GatewayObserver
	Logger   *logger.Logger
}

// CheckoutService records a pending payment and hands it to a provider.
type CheckoutService struct {
	payments Service
	gateways map[enums.PaymentMethod]Gateway
	timeout  time.Duration
	timeouts map[enums.PaymentMethod]time.Duration
	metrics  GatewayObserver
	logg     *logger.Logger
	now      func() time.Time
}

// NewCheckoutService registers the configured gateways. Nil gateways are skipped
// so disabled providers can be passed through unconditionally.
func NewCheckoutService(params CheckoutParams) (*CheckoutService, error) {
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	timeouts := make(map[enums.PaymentMethod]time.Duration, len(params.Timeouts))
	for method, d := range params.Timeouts {
		if d > 0 {
			timeouts[method] = d
		}
	}
	gateways := make(map[enums.PaymentMethod]Gateway, len(params.Gateways))
	for _, gw := range params.Gateways {
		if gw == nil {
			continue
		}
		gateways[gw.Method()] = gw
	}
	return &CheckoutService{
		payments: params.Payments,
		gateways: gateways,
		timeout:  timeout,
		timeouts: timeouts,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Methods lists the providers that can take a checkout.
func (s *CheckoutService) Methods() []enums.PaymentMethod {
	out := make([]enums.PaymentMethod, 0, len(s.gateways))
	for _, method := range []enums.PaymentMethod{enums.PaymentMethodCryptomus, enums.PaymentMethodStripe} {
		if _, ok := s.gateways[method]; ok {
			out = append(out, method)
		}
	}
	return out
}

func (s *CheckoutService) timeoutFor(method enums.PaymentMethod) time.Duration {
	if d, ok := s.timeouts[method]; ok {
		return d
	}
	return s.timeout
}

// Start records a pending payment for the package and opens it with the
// provider. A provider failure marks the payment failed.
func (s *CheckoutService) Start(ctx context.Context, userID uuid.UUID, packageID string, method enums.PaymentMethod) (*CheckoutSession, error) {
	pkg, ok := PackageByID(packageID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown credit package").
			WithDetails(map[string]any{"package": packageID})
	}
	gateway, ok := s.gateways[method]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"payment_method": method})
	}

	reference := referencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	payment, err := s.payments.RecordPending(ctx, RecordInput{
		UserID:        userID,
		Amount:        pkg.PriceUSD,
		Currency:      pkg.Currency,
		Credits:       pkg.Credits,
		Method:        method,
		TransactionID: reference,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record pending payment")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeoutFor(method))
	defer cancel()

	started := s.now()
	resp, err := gateway.CreatePayment(callCtx, GatewayRequest{
		Reference: reference,
		UserID:    userID,
		PackageID: pkg.ID,
		Credits:   pkg.Credits,
		Amount:    pkg.PriceUSD,
		Currency:  pkg.Currency,
	})
	if s.metrics != nil {
		s.metrics.ObserveGateway(method.String(), s.now().Sub(started))
	}
	if err == nil && resp == nil {
		err = fmt.Errorf("%s returned an empty response", method)
	}
	if err != nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"payment_id": payment.ID,
				"provider":   method.String(),
			})
			s.logg.Warn(logCtx, fmt.Sprintf("payment provider rejected checkout: %v", err))
		}
		if _, markErr := s.payments.MarkFailed(ctx, payment.ID); markErr != nil && s.logg != nil {
			s.logg.Error(ctx, "mark checkout payment failed", markErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
	}

	return &CheckoutSession{
		PaymentID:    payment.ID,
		Reference:    reference,
		Method:       method,
		Package:      pkg,
		ProviderID:   resp.ProviderID,
		CheckoutURL:  resp.CheckoutURL,
		ClientSecret: resp.ClientSecret,
	}, nil
}
