// Package migrations embeds the goose migrations for the SQL record store.
// The same files apply to PostgreSQL and SQLite.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
