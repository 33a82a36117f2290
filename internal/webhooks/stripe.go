package webhooks

import (
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/stripe/stripe-go/v84/webhook"
)

// StripeSignatureHeader carries Stripe's timestamped signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeVerifier validates Stripe-Signature headers through the SDK.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier returns nil without a signing secret.
func NewStripeVerifier(secret string, tolerance time.Duration) Verifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

func (v *StripeVerifier) Provider() enums.PaymentMethod { return enums.PaymentMethodStripe }

func (v *StripeVerifier) Verify(delivery Delivery) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if v == nil || len(delivery.Body) == 0 || delivery.Header == nil {
		return false
	}
	header := delivery.Header.Get(StripeSignatureHeader)
	if header == "" {
		return false
	}
	return webhook.ValidatePayloadWithTolerance(delivery.Body, header, v.secret, v.tolerance) == nil
}
