package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotAnObject = errors.New("value is not a JSON object")

// DecodeJSON unmarshals keeping numbers as json.Number so integers survive
// persistence round trips without turning into floats.
func DecodeJSON(data []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	return decoder.Decode(v)
}

// DecodeObject parses data as a JSON object. An empty payload yields an empty object.
func DecodeObject(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	var value any

	err := DecodeJSON(data, &value)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	object, ok := value.(map[string]any)
	if !ok {
		return nil, ErrNotAnObject
	}

	return object, nil
}

// CloneMap deep copies a JSON-compatible map.
func CloneMap(src map[string]any) (map[string]any, error) {
	if src == nil {
		return map[string]any{}, nil
	}

	data, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}

	return DecodeObject(data)
}
