// Package checkpoint persists per-session training progress so a re-opened
// session keeps its difficulty levels and round count.
//
// A checkpoint is not a replay log: it only carries what a fresh machine needs
// to continue (round index, last version, difficulty states). Round results are
// kept as an append-only history for reporting.
package checkpoint
