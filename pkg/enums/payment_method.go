package enums

import "fmt"

// PaymentMethod names the channel that funded a credit purchase. Manual
// covers admin grants and has no gateway behind it.
type PaymentMethod string

const (
	PaymentMethodCryptomus PaymentMethod = "cryptomus"
	PaymentMethodStripe    PaymentMethod = "stripe"
	PaymentMethodManual    PaymentMethod = "manual"
)

var providerBacked = map[PaymentMethod]bool{
	PaymentMethodCryptomus: true,
	PaymentMethodStripe:    true,
	PaymentMethodManual:    false,
}

func (p PaymentMethod) String() string {
	return string(p)
}

func (p PaymentMethod) IsValid() bool {
	_, ok := providerBacked[p]
	return ok
}

// IsProvider reports whether the method settles through an external gateway.
func (p PaymentMethod) IsProvider() bool {
	return providerBacked[p]
}

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	method := PaymentMethod(value)
	if !method.IsValid() {
		return "", fmt.Errorf("invalid payment method %q", value)
	}
	return method, nil
}
