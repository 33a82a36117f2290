package webhooks

import (
	"context"
	"net/http"

	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/internal/webhooks"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
)

type CryptomusProcessor interface {
	HandleCryptomus(ctx context.Context, cb *webhooks.CryptomusCallback) (*webhooks.Outcome, error)
}

// CryptomusWebhook handles signed invoice status callbacks.
func CryptomusWebhook(verifier deliveryVerifier, svc CryptomusProcessor, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, ok := readVerified(w, r, verifier, enums.PaymentMethodCryptomus, logg)
		if !ok {
			return
		}

		cb, err := webhooks.ParseCryptomusCallback(body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		process(r.Context(), w, guard, cb.EventID(), logg, func() (*webhooks.Outcome, error) {
			return svc.HandleCryptomus(r.Context(), cb)
		})
	}
}
