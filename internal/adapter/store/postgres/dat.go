package postgres

import (
	"encoding/json"
	"fmt"
)

// encodeDat projects a typed payload struct onto the jsonb attribute map.
func encodeDat(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("op=store.encode_dat: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("op=store.encode_dat: %w", err)
	}
	return m, nil
}

// decodeDat hydrates a typed payload struct from the jsonb attribute map.
func decodeDat(m map[string]any, v any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("op=store.decode_dat: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("op=store.decode_dat: %w", err)
	}
	return nil
}
