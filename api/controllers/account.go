package controllers

import (
	"net/http"

	"github.com/capsule-ai/capsule-backend/api/middleware"
	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/api/validators"
	"github.com/capsule-ai/capsule-backend/internal/auth"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/google/uuid"
)

type consumeRequest struct {
	Amount   int            `json:"amount" validate:"omitempty,min=1,max=10000"`
	Action   string         `json:"action" validate:"omitempty,max=64"`
	Metadata map[string]any `json:"metadata"`
}

type consumeResponse struct {
	CreditsBalance int   `json:"credits_balance"`
	Consumed       int   `json:"consumed"`
	UsageLogID     int64 `json:"usage_log_id"`
}

// Me returns the caller's profile.
func Me(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		user, err := svc.Profile(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, user)
	}
}

// MeStats returns balance and usage aggregates for the caller.
func MeStats(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.GetStats(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// CreditsConsume debits the caller for one metered action.
func CreditsConsume(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body consumeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := svc.ConsumeCredits(r.Context(), auth.ConsumeInput{
			UserID:   userID,
			Amount:   body.Amount,
			Action:   validators.SanitizeString(body.Action, 64),
			Metadata: body.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, consumeResponse{
			CreditsBalance: res.Balance,
			Consumed:       res.Consumed,
			UsageLogID:     res.UsageLogID,
		})
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return id, nil
}
