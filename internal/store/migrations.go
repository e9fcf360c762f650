package store

import (
	"database/sql"
	"fmt"

	"github.com/hyperengineering/planlearn/migrations"
	"github.com/pressly/goose/v3"
)

// prepareGoose points goose at the embedded migrations for dialect.
func prepareGoose(dialect Dialect) error {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDialect, dialect)
	}

	// Disable goose's default logging to avoid stdout noise
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// RunMigrations applies all pending migrations for the given dialect using goose.
// Each dialect reads its own directory from the embedded migrations filesystem.
func RunMigrations(db *sql.DB, dialect Dialect) error {
	if err := prepareGoose(dialect); err != nil {
		return err
	}
	if err := goose.Up(db, string(dialect)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ResetMigrations rolls every migration back and re-applies them,
// leaving an empty schema at the latest version.
func ResetMigrations(db *sql.DB, dialect Dialect) error {
	if err := prepareGoose(dialect); err != nil {
		return err
	}
	if err := goose.Reset(db, string(dialect)); err != nil {
		return fmt.Errorf("reset migrations: %w", err)
	}
	if err := goose.Up(db, string(dialect)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current schema version.
func MigrationVersion(db *sql.DB, dialect Dialect) (int64, error) {
	if err := prepareGoose(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
