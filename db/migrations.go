// Package db embeds the schema migrations applied by goose.
package db

import "embed"

// Migrations holds the SQL files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory within Migrations that goose reads.
const MigrationsDir = "migrations"
