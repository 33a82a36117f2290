package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/capsule-ai/capsule-backend/api/responses"
	"github.com/capsule-ai/capsule-backend/api/validators"
	pkgerrors "github.com/capsule-ai/capsule-backend/pkg/errors"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	pkgredis "github.com/capsule-ai/capsule-backend/pkg/redis"
)

// AuthRateLimitPolicy throttles one credential surface (login, register)
// with independent per-IP and per-email fixed windows. A zero limit
// disables that dimension.
type AuthRateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	emailLimit int
}

func NewAuthRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) AuthRateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auth"
	}
	return AuthRateLimitPolicy{name: name, window: window, ipLimit: ipLimit, emailLimit: emailLimit}
}

func (p AuthRateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.emailLimit > 0)
}

// AuthRateLimit rejects with 429 and Retry-After once either counter passes
// its limit. Emails are lower-cased and hashed before they reach redis.
func AuthRateLimit(policy AuthRateLimitPolicy, store pkgredis.RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.ipLimit > 0 {
				if ip := clientIP(r); ip != "" && !policy.check(ctx, w, store, logg, "ip", ip, policy.ipLimit) {
					return
				}
			}

			if policy.emailLimit > 0 {
				body, err := io.ReadAll(io.LimitReader(r.Body, validators.MaxBodyBytes+1))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))

				if email := extractEmail(body); email != "" && !policy.check(ctx, w, store, logg, "email", hashValue(email), policy.emailLimit) {
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// check counts one attempt and writes the rejection when over limit. It
// reports whether the request may continue.
func (p AuthRateLimitPolicy) check(ctx context.Context, w http.ResponseWriter, store pkgredis.RateLimitStore, logg *logger.Logger, dimension, subject string, limit int) bool {
	count, left, err := store.Hit(ctx, store.RateLimitKey("auth", p.name, dimension, subject), p.window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiter unavailable"))
		return false
	}
	if count <= int64(limit) {
		return true
	}
	if left <= 0 {
		left = p.window
	}
	retryAfter := int(math.Ceil(left.Seconds()))

	logCtx := logg.WithFields(ctx, map[string]any{
		"policy":      p.name,
		"dimension":   dimension,
		"attempts":    count,
		"limit":       limit,
		"retry_after": retryAfter,
	})
	logg.Warn(logCtx, "auth rate limit exceeded")

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts, try again later"))
	return false
}

// clientIP takes the left-most X-Forwarded-For hop, then X-Real-IP, then
// the socket peer.
func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func extractEmail(payload []byte) string {
	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(body.Email))
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
