// Package migrations carries the gateway's SQL migrations in the binary.
package migrations

import "embed"

// FS holds every NNN_name.sql file of this directory.
//
//go:embed *.sql
var FS embed.FS
