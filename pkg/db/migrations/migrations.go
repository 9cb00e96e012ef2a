// Package migrations registers the schema migrations for the coordinator
// database.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
