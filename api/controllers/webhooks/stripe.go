package webhooks

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/internal/webhooks"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/stripe/stripe-go/v84"
)

type StripeProcessor interface {
	HandleStripe(ctx context.Context, event *stripe.Event) (*webhooks.Outcome, error)
}

// StripeWebhook handles payment_intent lifecycle events.
func StripeWebhook(verifier deliveryVerifier, svc StripeProcessor, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, ok := readVerified(w, r, verifier, enums.PaymentMethodStripe, logg)
		if !ok {
			return
		}

		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "malformed stripe event"))
			return
		}

		process(r.Context(), w, guard, event.ID, logg, func() (*webhooks.Outcome, error) {
			return svc.HandleStripe(r.Context(), &event)
		})
	}
}
