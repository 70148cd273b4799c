// Package exercise defines the capability pair every training exercise
// supplies to the round lifecycle, the registry that resolves exercises by
// name, and the per-exercise profiles (phase timing and difficulty bounds)
// loaded from YAML.
//
// Exercises interpret the generic difficulty level themselves: each one maps
// the level to its own knobs (grid size, matrix size, number range) inside
// GenerateRound. A round splits into the challenge shown to the player and
// the solution, which stays on the server. ScoreResponse receives both the
// solution and the response in the JSON data model (float64 numbers, []any
// slices).
package exercise
