package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONText stores a JSON document as text so the same value binds to a
// Postgres jsonb column and a SQLite TEXT column.
type JSONText json.RawMessage

// NewJSONText marshals v, returning nil for a nil input.
func NewJSONText(v any) (JSONText, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("JSONText: marshal: %w", err)
	}
	return JSONText(raw), nil
}

func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case string:
		*j = JSONText(v)
	case []byte:
		*j = append((*j)[:0], v...)
	default:
		return fmt.Errorf("JSONText: unsupported Scan type %T", src)
	}
	if !json.Valid(*j) {
		return fmt.Errorf("JSONText: invalid json")
	}
	return nil
}

func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("JSONText: invalid json")
	}
	return string(j), nil
}

// MarshalJSON emits the raw document, or null when empty.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// Decode unmarshals the stored document into dest.
func (j JSONText) Decode(dest any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, dest)
}
