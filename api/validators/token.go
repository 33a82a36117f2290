package validators

import (
	"errors"
	"strings"
)

var ErrMissingToken = errors.New("missing bearer token")

// ParseBearer extracts the token from an Authorization header value. A bare
// token without the scheme is accepted.
func ParseBearer(raw string) (string, error) {
	fields := strings.Fields(raw)
	switch {
	case len(fields) == 1 && !strings.EqualFold(fields[0], "bearer"):
		return fields[0], nil
	case len(fields) == 2 && strings.EqualFold(fields[0], "bearer"):
		return fields[1], nil
	}
	return "", ErrMissingToken
}
