package exercise

import (
	"fmt"
	"math/rand/v2"
)

// Round is one generated challenge. Challenge is shown to the player;
// Solution never leaves the server and is only read back by ScoreResponse.
type Round struct {
	Challenge map[string]any
	Solution  map[string]any
}

// Exercise is the pair of pure functions the lifecycle calls each round.
type Exercise interface {
	// Name is the registry key, e.g. "symbol_memory".
	Name() string
	// Category is the difficulty category the exercise trains.
	Category() string
	// GenerateRound builds the round for a level using rng only.
	GenerateRound(level int, rng *rand.Rand) (Round, error)
	// ScoreResponse judges a response against the solution of its round.
	ScoreResponse(solution, response map[string]any) (bool, error)
}

func intField(m map[string]any, key string) (int, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%q is not an integer: %v", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%q: want number, got %T", key, raw)
	}
}

func boolField(m map[string]any, key string) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, fmt.Errorf("missing %q", key)
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%q: want bool, got %T", key, raw)
	}
	return v, nil
}

func intSliceField(m map[string]any, key string) ([]int, error) {
	raw, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing %q", key)
	}
	switch v := raw.(type) {
	case []int:
		return append([]int(nil), v...), nil
	case []any:
		out := make([]int, 0, len(v))
		for i, item := range v {
			n, err := intField(map[string]any{"v": item}, "v")
			if err != nil {
				return nil, fmt.Errorf("%q[%d]: %w", key, i, err)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%q: want list, got %T", key, raw)
	}
}
