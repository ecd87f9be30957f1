package utils

import (
	"encoding/json"
)

// DecodeJSON unmarshals a stored JSON column into a fresh value of T.
func DecodeJSON[T any](data string) (T, error) {
	var out T
	if data == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(data), &out)
	return out, err
}
