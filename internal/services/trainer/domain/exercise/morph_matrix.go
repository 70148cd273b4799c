package exercise

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// MorphMatrix shows a reference binary matrix and several rotated copies, some
// of which have flipped cells; the player selects the copies that are true
// rotations.
type MorphMatrix struct{}

const morphPatterns = 6

func (MorphMatrix) Name() string     { return "morph_matrix" }
func (MorphMatrix) Category() string { return "pattern" }

// MatrixSize maps level to the matrix side: 3 for levels 1-2 up to 6 from level 9.
func (MorphMatrix) MatrixSize(level int) int {
	switch {
	case level <= 2:
		return 3
	case level <= 5:
		return 4
	case level <= 8:
		return 5
	default:
		return 6
	}
}

func (m MorphMatrix) GenerateRound(level int, rng *rand.Rand) (Round, error) {
	size := m.MatrixSize(level)
	reference := randomMatrix(size, rng)

	modifiedCount := 1 + rng.IntN(4)
	modified := rng.Perm(morphPatterns)[:modifiedCount]
	sort.Ints(modified)
	isModified := make(map[int]bool, len(modified))
	for _, idx := range modified {
		isModified[idx] = true
	}

	flips := size / 2
	if flips < 1 {
		flips = 1
	}
	if flips > 3 {
		flips = 3
	}

	patterns := make([]map[string]any, morphPatterns)
	for i := range patterns {
		rotation := 90 * rng.IntN(4)
		matrix := rotate(reference, rotation)
		if isModified[i] {
			matrix = mutate(reference, matrix, flips, rng)
		}
		patterns[i] = map[string]any{"rotation": rotation, "matrix": matrix}
	}

	unmodified := make([]int, 0, morphPatterns-modifiedCount)
	for i := 0; i < morphPatterns; i++ {
		if !isModified[i] {
			unmodified = append(unmodified, i)
		}
	}

	return Round{
		Challenge: map[string]any{
			"matrix_size": size,
			"reference":   reference,
			"patterns":    patterns,
		},
		Solution: map[string]any{"unmodified": unmodified},
	}, nil
}

// ScoreResponse expects {"selected": [indices]} and is correct only when the
// selection equals the set of unmodified patterns.
func (MorphMatrix) ScoreResponse(solution, response map[string]any) (bool, error) {
	want, err := intSliceField(solution, "unmodified")
	if err != nil {
		return false, err
	}
	got, err := intSliceField(response, "selected")
	if err != nil {
		return false, err
	}
	selected := make(map[int]bool, len(got))
	for _, idx := range got {
		if idx < 0 || idx >= morphPatterns {
			return false, fmt.Errorf("selected index %d out of range", idx)
		}
		selected[idx] = true
	}
	if len(selected) != len(want) {
		return false, nil
	}
	for _, idx := range want {
		if !selected[idx] {
			return false, nil
		}
	}
	return true, nil
}

func randomMatrix(size int, rng *rand.Rand) [][]int {
	out := make([][]int, size)
	for r := range out {
		out[r] = make([]int, size)
		for c := range out[r] {
			out[r][c] = rng.IntN(2)
		}
	}
	return out
}

// rotate turns m clockwise by degrees (a multiple of 90).
func rotate(m [][]int, degrees int) [][]int {
	out := copyMatrix(m)
	for turns := (degrees / 90) % 4; turns > 0; turns-- {
		n := len(out)
		next := make([][]int, n)
		for r := range next {
			next[r] = make([]int, n)
			for c := range next[r] {
				next[r][c] = out[n-1-c][r]
			}
		}
		out = next
	}
	return out
}

// mutate flips cells of matrix until it is no longer any rotation of
// reference.
func mutate(reference, matrix [][]int, flips int, rng *rand.Rand) [][]int {
	n := len(matrix)
	for {
		out := copyMatrix(matrix)
		for i := 0; i < flips; i++ {
			r, c := rng.IntN(n), rng.IntN(n)
			out[r][c] = 1 - out[r][c]
		}
		if !isRotationOf(reference, out) {
			return out
		}
	}
}

func isRotationOf(reference, candidate [][]int) bool {
	for degrees := 0; degrees < 360; degrees += 90 {
		if matricesEqual(rotate(reference, degrees), candidate) {
			return true
		}
	}
	return false
}

func matricesEqual(a, b [][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		for c := range a[r] {
			if a[r][c] != b[r][c] {
				return false
			}
		}
	}
	return true
}

func copyMatrix(m [][]int) [][]int {
	out := make([][]int, len(m))
	for r := range m {
		out[r] = append([]int(nil), m[r]...)
	}
	return out
}
