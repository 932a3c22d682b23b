package fetch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeJSON decodes a payload with number preservation; callers that need
// exact identifiers (CPF/NIS) must not go through float64.
func DecodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("json response not decodable: %w", err)
	}
	return nil
}

func decodeJSON(raw []byte, v any) error {
	return DecodeJSON(raw, v)
}
