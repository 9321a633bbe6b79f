package migrations

import "embed"

// FS contains the embedded SQLite migrations for progression records.
//
//go:embed *.sql
var FS embed.FS
