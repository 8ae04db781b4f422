// Package migrations embeds the goose migration files for the local sqlite
// profile database and for the Postgres-backed remote item store schema.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var Migrations embed.FS
