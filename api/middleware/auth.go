package middleware

import (
	"context"
	"net/http"

	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/api/validators"
	"github.com/capsule-ai/capsule-backend/internal/users"
	pkgAuth "github.com/capsule-ai/capsule-backend/pkg/auth"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
)

// TokenVerifier resolves a bearer token to an active user.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*users.UserDTO, *pkgAuth.AccessTokenClaims, error)
}

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(verifier TokenVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
				return
			}

			token, err := validators.ParseBearer(r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "missing credentials"))
				return
			}

			_, claims, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
