package platformdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending versioned migration to the platform
// metadata database, guarded by locker so concurrent replicas don't race
// each other's Up.
func Migrate(ctx context.Context, dbType string, sqlDB *sql.DB, locker MigrationLocker) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	var driver database.Driver
	switch dbType {
	case "postgres", "":
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{})
	case "mysql":
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{})
	default:
		return fmt.Errorf("unsupported database type %q (want postgres or mysql)", dbType)
	}
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbType, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	return locker.WithLock(ctx, func() error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}
