// Package migrations embeds SQL migration files into the binary.
//
// This allows the bridge to run migrations without needing the SQL files
// present on the filesystem - they're compiled into the executable.
package migrations

import "embed"

// FS holds every migration; files are at the root of the embedded FS.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory inside FS that holds the migration files.
const Dir = "."
