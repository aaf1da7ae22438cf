// Package migrations embeds SQL migration files and provides a function to apply them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dialect names a migration set and the goose dialect that runs it.
type Dialect struct {
	Dir   string
	Goose string
}

// Supported migration dialects.
var (
	SQLite   = Dialect{Dir: "sqlite", Goose: "sqlite3"}
	Postgres = Dialect{Dir: "postgres", Goose: "postgres"}
)

// Setup points goose at the embedded migrations for d.
func Setup(d Dialect) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(d.Goose); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB, d Dialect) error {
	if err := Setup(d); err != nil {
		return err
	}
	if err := goose.Up(db, d.Dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
