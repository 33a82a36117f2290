package cryptomus

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// SignField is the body key that carries the webhook signature.
const SignField = "sign"

var errNotObject = errors.New("cryptomus payload must be a JSON object")

// Sign returns the hex HMAC-SHA256 of payload keyed with the merchant API key.
func Sign(apiKey string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Canonicalize re-encodes a JSON object with sorted keys, compact separators
// and everything outside printable ASCII escaped as \uXXXX. Integers are kept
// as written; other numbers are rendered in shortest round-trip form with a
// trailing ".0" or a signed two-digit exponent. Top-level keys listed in drop
// are removed.
func Canonicalize(body []byte, drop ...string) ([]byte, error) {
	doc, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	for _, key := range drop {
		delete(doc, key)
	}
	return encodeObject(doc)
}

// SplitSignature extracts the sign field and the canonical form of the rest.
func SplitSignature(body []byte) (string, []byte, error) {
	doc, err := decodeObject(body)
	if err != nil {
		return "", nil, err
	}
	sign, _ := doc[SignField].(string)
	delete(doc, SignField)

	canonical, err := encodeObject(doc)
	if err != nil {
		return "", nil, err
	}
	return sign, canonical, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if doc == nil {
		return nil, errNotObject
	}
	if dec.More() {
		return nil, fmt.Errorf("decode payload: trailing data")
	}
	return doc, nil
}

func encodeObject(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		num, err := formatNumber(v.String())
		if err != nil {
			return err
		}
		buf.WriteString(num)
	case string:
		writeString(buf, v)
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, key)
			buf.WriteByte(':')
			if err := writeValue(buf, v[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported json value %T", value)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20, r == 0x7f:
				fmt.Fprintf(buf, `\u%04x`, r)
			case r < utf8.RuneSelf:
				buf.WriteRune(r)
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(buf, `\u%04x`, r)
			}
		}
	}
	buf.WriteByte('"')
}

func formatNumber(raw string) (string, error) {
	if !strings.ContainsAny(raw, ".eE") {
		if raw == "-0" {
			return "0", nil
		}
		return raw, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && !math.IsInf(f, 0) {
		return "", fmt.Errorf("parse number %q: %w", raw, err)
	}
	switch {
	case math.IsInf(f, 1):
		return "Infinity", nil
	case math.IsInf(f, -1):
		return "-Infinity", nil
	case f == 0:
		if math.Signbit(f) {
			return "-0.0", nil
		}
		return "0.0", nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}
	// d.ddde±XX carries the shortest digits that round-trip.
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	digits := strings.Replace(mantissa, ".", "", 1)
	e, err := strconv.Atoi(exp)
	if err != nil {
		return "", fmt.Errorf("parse exponent %q: %w", exp, err)
	}
	point := e + 1

	switch {
	case point > 16 || point <= -4:
		out := digits[:1]
		if len(digits) > 1 {
			out += "." + digits[1:]
		}
		expSign := "+"
		if e < 0 {
			expSign = "-"
			e = -e
		}
		return fmt.Sprintf("%s%se%s%02d", sign, out, expSign, e), nil
	case point <= 0:
		return sign + "0." + strings.Repeat("0", -point) + digits, nil
	case point >= len(digits):
		return sign + digits + strings.Repeat("0", point-len(digits)) + ".0", nil
	default:
		return sign + digits[:point] + "." + digits[point:], nil
	}
}

// Equal compares two hex signatures in constant time, ignoring case.
func Equal(expected, got string) bool {
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(strings.TrimSpace(got))))
}
