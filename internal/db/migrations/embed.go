// Package migrations embeds the SQL migrations for docmigrate's bookkeeping tables.
package migrations

import "embed"

// FS contains the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
