package postgres

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every pending migration from sourceDir against the store's
// database. Already-applied schemas are a no-op.
func (s *Store) Migrate(sourceDir string) error {
	driver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{
		MigrationsTable: "meal_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+sourceDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("open migrations %s: %w", sourceDir, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
