package controllers

import (
	"net/http"

	"github.com/capsule-ai/capsule-backend/api/middleware"
	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/api/validators"
	"github.com/capsule-ai/capsule-backend/internal/auth"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required"`
}

const resetNotice = "if the email is registered, a reset link has been sent"

// AuthRegister creates an account and returns its first token.
func AuthRegister(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body credentialsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Register(r.Context(), body.Email, body.Password)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithUserID(r.Context(), result.User.ID.String()), "user registered")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AuthLogin wires the login endpoint into the HTTP layer.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body credentialsRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Authenticate(r.Context(), body.Email, body.Password)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// AuthLogout denylists the presented token.
func AuthLogout(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Logout(r.Context(), middleware.ClaimsFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}

// AuthChangePassword rotates the password and returns a replacement token.
func AuthChangePassword(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body changePasswordRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ChangePassword(r.Context(), middleware.ClaimsFromContext(r.Context()), body.OldPassword, body.NewPassword)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// AuthPasswordReset always answers 202 so callers cannot probe for accounts.
func AuthPasswordReset(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body resetRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		decision, err := svc.RequestPasswordReset(r.Context(), body.Email)
		switch {
		case err != nil:
			if logg != nil {
				logg.Error(r.Context(), "password reset lookup failed", err)
			}
		case decision.Send && logg != nil:
			logg.Info(logg.WithUserID(r.Context(), decision.UserID.String()), "password reset requested")
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"message": resetNotice})
	}
}
