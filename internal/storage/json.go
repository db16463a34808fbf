package storage

import (
	"encoding/json"
	"fmt"
)

// GetJSON reads key and decodes it into v.
func GetJSON(db DB, key []byte, v any) error {
	data, err := db.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(db DB, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return db.Put(key, data)
}
