// Package migrations embeds the goose SQL migrations for the Postgres
// credential store.
package migrations

import "embed"

// Migrations holds the SQL migration files.
//
//go:embed *.sql
var Migrations embed.FS
