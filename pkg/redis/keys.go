package redis

import "strings"

const keyNamespace = "capsule"

// Keys builds the namespaced key layout shared by every store in the
// service: capsule:<family>:<parts...>.
type Keys struct{}

func (Keys) IdempotencyKey(scope, id string) string {
	return buildKey("idempotency", scope, id)
}

func (Keys) RateLimitKey(parts ...string) string {
	return buildKey(append([]string{"rate_limit"}, parts...)...)
}

func (Keys) RevokedTokenKey(jti string) string {
	return buildKey("revoked", "jti", jti)
}

// RevokedUserKey holds the unix-second cutoff before which a user's
// tokens are rejected.
func (Keys) RevokedUserKey(userID string) string {
	return buildKey("revoked", "user", userID)
}

func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		b.WriteByte(':')
		b.WriteString(part)
	}
	return b.String()
}
