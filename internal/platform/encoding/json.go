// Package encoding holds the JSON codec used for journal records, command
// payloads and snapshot state.
//
// All persisted bytes go through the same sonic configuration so that two
// encodings of equal values are byte-identical: map keys are sorted and HTML
// escaping is left at the encoding/json default.
package encoding

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// Marshal encodes v as JSON.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return api.Valid(data)
}

// CanonicalJSON re-encodes a JSON document with sorted object keys and no
// insignificant whitespace.
func CanonicalJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty json document")
	}
	var value any
	decoder := api.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	out, err := api.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return out, nil
}
