package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/capsule-ai/capsule-backend/api/responses"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey guards operator endpoints with a shared API key. An empty key
// disables the routes entirely.
func AdminKey(apiKey string, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(apiKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin api disabled"))
				return
			}
			provided := []byte(strings.TrimSpace(r.Header.Get(AdminKeyHeader)))
			if subtle.ConstantTimeCompare(provided, expected) != 1 {
				if logg != nil {
					logg.Warn(r.Context(), "admin.key.rejected")
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid admin key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
