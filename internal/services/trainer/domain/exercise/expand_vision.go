package exercise

import "math/rand/v2"

// ExpandVision flashes four numbers around a central fixation point; the
// player reports their sum without moving their eyes.
type ExpandVision struct{}

func (ExpandVision) Name() string     { return "expand_vision" }
func (ExpandVision) Category() string { return "vision" }

// NumberRange widens with level: numbers are drawn from [-r/2, r/2].
func (ExpandVision) NumberRange(level int) int {
	return 8 + 2*level
}

// DisplayMS shortens the flash with level, never below 1500ms.
func (ExpandVision) DisplayMS(level int) int {
	ms := 6000 - 450*(level-1)
	if ms < 1500 {
		ms = 1500
	}
	return ms
}

// Offset pushes the numbers further from the center with level, as a
// fraction of the viewport.
func (ExpandVision) Offset(level int) float64 {
	offset := 0.15 + 0.025*float64(level)
	if offset > 0.45 {
		offset = 0.45
	}
	return offset
}

func (e ExpandVision) GenerateRound(level int, rng *rand.Rand) (Round, error) {
	half := e.NumberRange(level) / 2
	numbers := make([]int, 4)
	sum := 0
	for i := range numbers {
		numbers[i] = rng.IntN(2*half+1) - half
		sum += numbers[i]
	}
	return Round{
		Challenge: map[string]any{
			"numbers":    numbers,
			"positions":  []string{"top", "right", "bottom", "left"},
			"display_ms": e.DisplayMS(level),
			"offset":     e.Offset(level),
		},
		Solution: map[string]any{"sum": sum},
	}, nil
}

// ScoreResponse expects {"sum": n}.
func (ExpandVision) ScoreResponse(solution, response map[string]any) (bool, error) {
	want, err := intField(solution, "sum")
	if err != nil {
		return false, err
	}
	got, err := intField(response, "sum")
	if err != nil {
		return false, err
	}
	return got == want, nil
}
