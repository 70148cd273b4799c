package difficulty

import "time"

// State is the per-category difficulty record embedded in every snapshot.
type State struct {
	Level                int     `json:"level"`
	Score                float64 `json:"score"`
	ConsecutiveCorrect   int     `json:"consecutive_correct"`
	ConsecutiveIncorrect int     `json:"consecutive_incorrect"`
	// LatencyMS is an EWMA of response latency. It never drives level changes.
	LatencyMS float64 `json:"latency_ms"`
	Attempts  int     `json:"attempts"`
}

// Outcome is the scored result of one round.
type Outcome struct {
	Correct bool
	Latency time.Duration
}

// NewState returns the state a category starts with on its first attempt.
func NewState(cfg Config) State {
	return State{
		Level: cfg.InitialLevel,
		Score: cfg.InitialScore,
	}
}

// Record folds one outcome into state.
func Record(cfg Config, state State, outcome Outcome) State {
	next := state

	signal := 0.0
	if outcome.Correct {
		signal = 1.0
	}
	next.Score = clamp01(cfg.Alpha*signal + (1-cfg.Alpha)*state.Score)

	latencyMS := float64(outcome.Latency) / float64(time.Millisecond)
	if latencyMS < 0 {
		latencyMS = 0
	}
	if state.Attempts == 0 {
		next.LatencyMS = latencyMS
	} else {
		next.LatencyMS = cfg.Alpha*latencyMS + (1-cfg.Alpha)*state.LatencyMS
	}
	next.Attempts = state.Attempts + 1

	if outcome.Correct {
		next.ConsecutiveCorrect = state.ConsecutiveCorrect + 1
		next.ConsecutiveIncorrect = 0
	} else {
		next.ConsecutiveIncorrect = state.ConsecutiveIncorrect + 1
		next.ConsecutiveCorrect = 0
	}

	switch {
	case next.Score >= cfg.UpperThreshold && next.ConsecutiveCorrect >= cfg.MinStreak:
		next.Level = clampLevel(cfg, next.Level+1)
		next.ConsecutiveCorrect = 0
		next.ConsecutiveIncorrect = 0
	case next.Score <= cfg.LowerThreshold && next.ConsecutiveIncorrect >= cfg.MinStreak:
		next.Level = clampLevel(cfg, next.Level-1)
		next.ConsecutiveCorrect = 0
		next.ConsecutiveIncorrect = 0
	}
	return next
}

func clampLevel(cfg Config, level int) int {
	if level < cfg.MinLevel {
		return cfg.MinLevel
	}
	if level > cfg.MaxLevel {
		return cfg.MaxLevel
	}
	return level
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
