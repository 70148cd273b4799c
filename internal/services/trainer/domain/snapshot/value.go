package snapshot

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// NormalizeValue converts an exercise-produced value into its JSON data-model
// form (map[string]any, []any, float64, string, bool, nil). Normalised values
// compare with ValuesEqual the same way on both ends of the wire.
func NormalizeValue(value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, float64:
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", value, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize %T: %w", value, err)
	}
	return out, nil
}

// NormalizePayload normalises every value of payload into a new map.
func NormalizePayload(payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		normalized, err := NormalizeValue(value)
		if err != nil {
			return nil, fmt.Errorf("payload %q: %w", key, err)
		}
		out[key] = normalized
	}
	return out, nil
}

// CloneValue deep-copies maps and slices of the JSON data model. Other values
// are returned as is.
func CloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = CloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return value
	}
}

// ValuesEqual is deep equality over payload values.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
