package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/internal/webhooks"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type deliveryVerifier interface {
	Verify(provider enums.PaymentMethod, delivery webhooks.Delivery) bool
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type duplicateResponse struct {
	EventID string `json:"event_id"`
	Action  string `json:"action"`
}

// readVerified reads the raw body and authenticates it. Any failure is
// reported as PAYMENT_VERIFICATION_FAILED without the reason.
func readVerified(w http.ResponseWriter, r *http.Request, verifier deliveryVerifier, provider enums.PaymentMethod, logg *logger.Logger) ([]byte, bool) {
	ctx := r.Context()
	if logg != nil {
		ctx = logg.WithProvider(ctx, provider.String())
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
		return nil, false
	}

	if verifier == nil || !verifier.Verify(provider, webhooks.Delivery{Body: body, Header: r.Header}) {
		if logg != nil {
			logg.Warn(ctx, fmt.Sprintf("%s webhook failed verification", provider))
		}
		responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodePaymentVerification, "signature rejected"))
		return nil, false
	}
	return body, true
}

// process runs handle once per event id. A failed handler releases the mark
// so the provider's retry is processed.
func process(ctx context.Context, w http.ResponseWriter, guard eventGuard, eventID string, logg *logger.Logger, handle func() (*webhooks.Outcome, error)) {
	if guard != nil {
		seen, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if seen {
			responses.WriteSuccess(w, duplicateResponse{EventID: eventID, Action: webhooks.ActionReplayed})
			return
		}
	}

	outcome, err := handle()
	if err != nil {
		if guard != nil {
			if releaseErr := guard.Release(ctx, eventID); releaseErr != nil && logg != nil {
				logg.Error(ctx, "release webhook idempotency mark", releaseErr)
			}
		}
		responses.WriteError(ctx, logg, w, err)
		return
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"event_id":   outcome.EventID,
			"action":     outcome.Action,
			"payment_id": outcome.PaymentID,
		})
		logg.Info(logCtx, "webhook processed")
	}
	responses.WriteSuccess(w, outcome)
}
