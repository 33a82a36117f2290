package controllers

import (
	"net/http"

	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/api/validators"
	"github.com/capsule-ai/capsule-backend/internal/auth"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type grantRequest struct {
	UserID        string `json:"user_id" validate:"required,uuid"`
	Credits       int    `json:"credits" validate:"required,min=1"`
	PaymentMethod string `json:"payment_method"`
	TransactionID string `json:"transaction_id" validate:"omitempty,max=128"`
}

// AdminGrantCredits credits a user through the payment recorder. A repeated
// transaction_id replays the original grant.
func AdminGrantCredits(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body grantRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(body.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid user id"))
			return
		}

		method := enums.PaymentMethodManual
		if body.PaymentMethod != "" {
			parsed, err := enums.ParsePaymentMethod(body.PaymentMethod)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method"))
				return
			}
			method = parsed
		}

		res, err := svc.GrantCredits(r.Context(), auth.GrantInput{
			UserID:        userID,
			Credits:       body.Credits,
			Method:        method,
			TransactionID: body.TransactionID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"user_id":    body.UserID,
				"credits":    body.Credits,
				"payment_id": res.PaymentID,
				"applied":    res.Applied,
			})
			logg.Info(ctx, "admin credit grant")
		}
		responses.WriteSuccess(w, res)
	}
}

// AdminDeactivateUser soft-deletes a user and revokes their tokens.
func AdminDeactivateUser(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(r, "userId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid user id"))
			return
		}
		if err := svc.Deactivate(r.Context(), userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deactivated"})
	}
}
