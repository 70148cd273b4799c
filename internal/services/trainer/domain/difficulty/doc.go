// Package difficulty owns the adaptive difficulty rule shared by every
// exercise.
//
// Each challenge category carries a State: the current level, an EWMA of
// correctness signals, streak counters and an informational latency EWMA.
// Record is the single place that state changes; it is a pure function of
// (Config, State, Outcome), so every exercise gets identical adaptive
// behavior and the rule can be verified without a session around it.
//
// Level rules, evaluated after the EWMA and streak update:
//   - level up when score >= upper threshold and the correct streak reaches
//     min_streak (clamped to max level, streaks reset),
//   - level down when score <= lower threshold and the incorrect streak
//     reaches min_streak (clamped to min level, streaks reset),
//   - otherwise the level is unchanged.
package difficulty
