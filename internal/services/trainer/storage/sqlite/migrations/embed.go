package migrations

import "embed"

// FS contains embedded SQLite migrations for trainer checkpoints.
//
//go:embed *.sql
var FS embed.FS
