// Package migrations embeds the goose SQL migrations of the ticket hold schema.
package migrations

import "embed"

// FS holds every migration file; pass "." as the directory to goose
//
//go:embed *.sql
var FS embed.FS
