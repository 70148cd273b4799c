// Package sqlite persists trainer checkpoints and round results in SQLite.
//
// Difficulty states are stored as a JSON document per session; round results
// are append-only rows read back newest first.
package sqlite
