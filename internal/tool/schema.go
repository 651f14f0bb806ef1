package tool

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor derives an input schema map from a Go argument struct via
// reflection. The returned map is independent of the reflected schema and
// safe to mutate, e.g. to attach property descriptions.
func SchemaFor[T any]() (map[string]any, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("tool: schema reflection failed: %w", err)
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: schema encoding failed: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("tool: schema decoding failed: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// DecodeParams round-trips a params map into a typed argument struct, so tool
// handlers can work with static types instead of map lookups.
func DecodeParams[T any](params map[string]any) (T, error) {
	var args T
	data, err := json.Marshal(params)
	if err != nil {
		return args, fmt.Errorf("tool: invalid params: %w", err)
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, fmt.Errorf("tool: params do not match the expected shape: %w", err)
	}
	return args, nil
}
