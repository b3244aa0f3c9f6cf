package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EntityRecord is a normalized UCM object as stored after a sync unit.
type EntityRecord struct {
	EntityType EntityType `db:"entity_type"`
	ScopeID    string     `db:"scope_id"`
	NaturalKey string     `db:"natural_key"`
	Name       string     `db:"name"`
	UUID       string     `db:"uuid"`
	Payload    JSONMap    `db:"payload"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// JSONMap is a flattened record payload stored as jsonb.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(data, m)
}
