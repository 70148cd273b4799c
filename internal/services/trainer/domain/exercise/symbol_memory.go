package exercise

import (
	"math/rand/v2"
)

// SymbolMemory shows a grid of symbols, then a probe grid that is either the
// same or modified in one place; the player answers whether it changed.
type SymbolMemory struct{}

var memorySymbols = []string{"■", "●", "▲", "◆", "★", "♦", "♥", "♣", "♠", "⬡", "⬢", "⌘"}

// Modification kinds applied to the probe grid.
const (
	modifyChange = "change"
	modifyMove   = "move"
	modifyAdd    = "add"
	modifyRemove = "remove"
)

func (SymbolMemory) Name() string     { return "symbol_memory" }
func (SymbolMemory) Category() string { return "memory" }

// GridSize maps level to the grid side: 2 for levels 1-2 up to 6 from level 9.
func (SymbolMemory) GridSize(level int) int {
	switch {
	case level <= 2:
		return 2
	case level <= 4:
		return 3
	case level <= 6:
		return 4
	case level <= 8:
		return 5
	default:
		return 6
	}
}

// SymbolCount scales the filled cells with level, at least 3.
func (s SymbolMemory) SymbolCount(level int) int {
	size := s.GridSize(level)
	cells := size * size
	n := int(float64(cells) * (0.3 + 0.05*float64(level)))
	if n < 3 {
		n = 3
	}
	if n > cells {
		n = cells
	}
	return n
}

func (s SymbolMemory) GenerateRound(level int, rng *rand.Rand) (Round, error) {
	size := s.GridSize(level)
	original := make([][]string, size)
	for r := range original {
		original[r] = make([]string, size)
	}
	cells := rng.Perm(size * size)
	for _, cell := range cells[:s.SymbolCount(level)] {
		original[cell/size][cell%size] = memorySymbols[rng.IntN(len(memorySymbols))]
	}

	probe := make([][]string, size)
	for r := range original {
		probe[r] = append([]string(nil), original[r]...)
	}
	modification := ""
	if rng.IntN(2) == 1 {
		modification = modifyGrid(probe, rng)
	}

	return Round{
		Challenge: map[string]any{
			"grid_size": size,
			"original":  original,
			"probe":     probe,
		},
		Solution: map[string]any{
			"modified":     modification != "",
			"modification": modification,
		},
	}, nil
}

// modifyGrid applies one visible change and names it. A kind that cannot
// apply to this grid (no empty cell to move into) falls through to change.
func modifyGrid(grid [][]string, rng *rand.Rand) string {
	var filled, empty [][2]int
	for r := range grid {
		for c := range grid[r] {
			if grid[r][c] == "" {
				empty = append(empty, [2]int{r, c})
			} else {
				filled = append(filled, [2]int{r, c})
			}
		}
	}

	kinds := []string{modifyChange, modifyMove, modifyAdd, modifyRemove}
	kind := kinds[rng.IntN(len(kinds))]
	if len(empty) == 0 && (kind == modifyMove || kind == modifyAdd) {
		kind = modifyChange
	}

	switch kind {
	case modifyMove:
		from := filled[rng.IntN(len(filled))]
		to := empty[rng.IntN(len(empty))]
		grid[to[0]][to[1]] = grid[from[0]][from[1]]
		grid[from[0]][from[1]] = ""
	case modifyAdd:
		at := empty[rng.IntN(len(empty))]
		grid[at[0]][at[1]] = memorySymbols[rng.IntN(len(memorySymbols))]
	case modifyRemove:
		at := filled[rng.IntN(len(filled))]
		grid[at[0]][at[1]] = ""
	default:
		at := filled[rng.IntN(len(filled))]
		current := grid[at[0]][at[1]]
		next := current
		for next == current {
			next = memorySymbols[rng.IntN(len(memorySymbols))]
		}
		grid[at[0]][at[1]] = next
		kind = modifyChange
	}
	return kind
}

// ScoreResponse expects {"modified": bool}.
func (SymbolMemory) ScoreResponse(solution, response map[string]any) (bool, error) {
	want, err := boolField(solution, "modified")
	if err != nil {
		return false, err
	}
	got, err := boolField(response, "modified")
	if err != nil {
		return false, err
	}
	return got == want, nil
}
