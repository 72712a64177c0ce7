// Package migrations embeds the SQL schema for the capture catalog and
// audit trail so the binary carries its own schema.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
