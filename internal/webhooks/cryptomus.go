package webhooks

import (
	"strings"

	"github.com/capsule-ai/capsule-backend/pkg/cryptomus"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
)

// CryptomusVerifier checks the sign field embedded in the callback body.
type CryptomusVerifier struct {
	apiKey string
}

// NewCryptomusVerifier returns nil without an API key.
func NewCryptomusVerifier(apiKey string) Verifier {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	return &CryptomusVerifier{apiKey: apiKey}
}

func (v *CryptomusVerifier) Provider() enums.PaymentMethod { return enums.PaymentMethodCryptomus }

func (v *CryptomusVerifier) Verify(delivery Delivery) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if v == nil || v.apiKey == "" || len(delivery.Body) == 0 {
		return false
	}
	sign, canonical, err := cryptomus.SplitSignature(delivery.Body)
	if err != nil || sign == "" {
		return false
	}
	return cryptomus.Equal(cryptomus.Sign(v.apiKey, canonical), sign)
}
