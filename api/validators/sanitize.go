package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims input, drops control characters and caps the result
// at maxLen runes. A non-positive maxLen disables the cap.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	cleaned = strings.TrimSpace(cleaned)

	if maxLen <= 0 {
		return cleaned
	}
	runes := 0
	for i := range cleaned {
		if runes == maxLen {
			return cleaned[:i]
		}
		runes++
	}
	return cleaned
}
