package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"https://capsule-ai.com",
}

// CORS returns middleware that applies the API's allowed origin policy.
// Credentials are only allowed when the origin list is explicit.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	wildcard := false
	for _, origin := range origins {
		if origin == "*" {
			wildcard = true
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Requested-With", AdminKeyHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}).Handler
}
