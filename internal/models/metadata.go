package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata holds free-form context attached to audit entries, events and assessments.
// It is stored as JSONB.
type Metadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%w: unsupported metadata type %T", ErrBadRequest, value)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	if decoded == nil {
		decoded = make(map[string]interface{})
	}
	*m = Metadata(decoded)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(m))
}

// Clone returns a shallow copy so callers cannot mutate stored records.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Bool reports whether key is present and set to boolean true.
func (m Metadata) Bool(key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}
