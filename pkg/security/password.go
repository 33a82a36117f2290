package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/capsule-ai/capsule-backend/pkg/config"
	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash signals a malformed Argon2id hash string.
var ErrInvalidHash = fmt.Errorf("invalid argon2id hash")

// Upper bounds for configured and stored cost parameters.
const (
	maxMemoryKB = 512 * 1024
	maxTime     = 10
)

// ErrEmptyPassword is returned when hashing an empty secret.
var ErrEmptyPassword = fmt.Errorf("password cannot be empty")

// Hasher turns plaintext passwords into self-describing stored hashes.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, stored string) bool
}

// ArgonParams captures the Argon2id parameters we embed into each hash string.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// Argon2Hasher is the production Hasher. Salt and cost parameters travel
// inside every encoded hash so older hashes keep verifying after a
// parameter change.
type Argon2Hasher struct {
	params ArgonParams
}

// NewArgon2Hasher builds a hasher from config, clamping each parameter to sane bounds.
func NewArgon2Hasher(cfg config.PasswordConfig) *Argon2Hasher {
	return &Argon2Hasher{params: paramsFromConfig(cfg)}
}

// Params exposes the effective parameters after clamping.
func (h *Argon2Hasher) Params() ArgonParams {
	return h.params
}

// Hash returns a formatted Argon2id hash for the provided password.
func (h *Argon2Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(plain), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLen)

	encSalt := base64.RawStdEncoding.EncodeToString(salt)
	encHash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism, encSalt, encHash), nil
}

// Verify reports whether plain matches stored. Malformed hashes never match.
func (h *Argon2Hasher) Verify(plain, stored string) bool {
	ok, err := VerifyPassword(plain, stored)
	return err == nil && ok
}

// VerifyPassword returns true when the password matches the encoded hash.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, hash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Parallelism, params.KeyLen)

	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}

// ValidatePasswordPolicy enforces the minimum length, counted in characters.
func ValidatePasswordPolicy(plain string, minLength int) error {
	if minLength <= 0 {
		minLength = 8
	}
	if utf8.RuneCountInString(plain) < minLength {
		return fmt.Errorf("password must be at least %d characters long", minLength)
	}
	return nil
}

func paramsFromConfig(cfg config.PasswordConfig) ArgonParams {
	threads := clampInt(cfg.ArgonParallelism, 1, 255)
	return ArgonParams{
		Memory:      clampUint32(cfg.ArgonMemoryKB, 8, maxMemoryKB),
		Time:        clampUint32(cfg.ArgonTime, 1, maxTime),
		Parallelism: uint8(threads),
		SaltLen:     clampUint32(cfg.ArgonSaltLen, 16, 64),
		KeyLen:      clampUint32(cfg.ArgonKeyLen, 16, 64),
	}
}

func decodeHash(encoded string) (ArgonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	var params ArgonParams
	seen := make(map[string]bool, 3)
	for _, token := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(token, "=")
		if !ok || seen[key] {
			return ArgonParams{}, nil, nil, ErrInvalidHash
		}
		seen[key] = true
		bits := 32
		if key == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(value, 10, bits)
		if err != nil || v == 0 {
			return ArgonParams{}, nil, nil, ErrInvalidHash
		}
		switch key {
		case "m":
			params.Memory = uint32(v)
		case "t":
			params.Time = uint32(v)
		case "p":
			params.Parallelism = uint8(v)
		default:
			return ArgonParams{}, nil, nil, ErrInvalidHash
		}
	}
	if !seen["m"] || !seen["t"] || !seen["p"] {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	if params.Memory > maxMemoryKB || params.Time > maxTime {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	params.SaltLen = uint32(len(salt))
	params.KeyLen = uint32(len(hash))

	return params, salt, hash, nil
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampUint32(value, min, max int) uint32 {
	return uint32(clampInt(value, min, max))
}
