package auth

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONMap is a wrapper for JSONB object columns that implements sql.Scanner
// and driver.Valuer. Custom registration data is stored through it.
type JSONMap map[string]interface{}

// Scan implements the sql.Scanner interface.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if len(bytes) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface.
func (m JSONMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(m))
}
