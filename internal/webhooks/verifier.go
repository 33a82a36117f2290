package webhooks

import (
	"net/http"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/enums"
)

// Delivery is one inbound provider callback exactly as received.
type Delivery struct {
	Body   []byte
	Header http.Header
}

// Verifier authenticates deliveries from one provider. Verify never panics and
// treats any malformed input as unauthenticated.
type Verifier interface {
	Provider() enums.PaymentMethod
	Verify(delivery Delivery) bool
}

// Observer records verification outcomes.
type Observer interface {
	ObserveWebhook(provider string, valid bool)
}

// Registry routes deliveries to the verifier for their provider.
type Registry struct {
	verifiers map[enums.PaymentMethod]Verifier
	metrics   Observer
}

// NewRegistry registers the non-nil verifiers.
func NewRegistry(metrics Observer, verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[enums.PaymentMethod]Verifier, len(verifiers)), metrics: metrics}
	for _, v := range verifiers {
		if v == nil {
			continue
		}
		r.verifiers[v.Provider()] = v
	}
	return r
}

// Has reports whether provider has a registered verifier.
func (r *Registry) Has(provider enums.PaymentMethod) bool {
	if r == nil {
		return false
	}
	_, ok := r.verifiers[provider]
	return ok
}

// Verify returns false for unknown providers.
func (r *Registry) Verify(provider enums.PaymentMethod, delivery Delivery) bool {
	if r == nil {
		return false
	}
	v, ok := r.verifiers[provider]
	valid := ok && safeVerify(v, delivery)
	if r.metrics != nil {
		r.metrics.ObserveWebhook(provider.String(), valid)
	}
	return valid
}

func safeVerify(v Verifier, delivery Delivery) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return v.Verify(delivery)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
