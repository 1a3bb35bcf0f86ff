// Package migrations holds the embedded SQL migrations for the apollo
// schema.
package migrations

import (
	"database/sql"
	"embed"

	"github.com/remind101/migrate"
)

// MigrationTable is where applied migration ids are recorded.
const MigrationTable = "apollo_migrations"

//go:embed */*.sql
var fs embed.FS

func runFile(n string) func(*sql.Tx) error {
	b, err := fs.ReadFile(n)
	return func(tx *sql.Tx) error {
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(b)); err != nil {
			return err
		}
		return nil
	}
}

// Migrations apply in order; append only.
var Migrations = []migrate.Migration{
	{
		ID: 1,
		Up: runFile("apollo/01-init.sql"),
	},
}
