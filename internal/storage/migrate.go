package storage

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/anders94/stablecoin-wars-backend/internal/logging"
)

// sourceURL builds the file-source URL golang-migrate reads its
// up/down pairs from, rooted at migrationsPath (e.g. "migrations/postgres",
// the nine §6 tables plus the scheduler's jobs table and the batch_commits
// ledger).
func sourceURL(migrationsPath string) string {
	return fmt.Sprintf("file://%s", migrationsPath)
}

func newMigrate(databaseURL, migrationsPath string) (*migrate.Migrate, error) {
	m, err := migrate.New(sourceURL(migrationsPath), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance against %s: %w", migrationsPath, err)
	}
	return m, nil
}

// RunMigrations applies every pending migration under migrationsPath.
func RunMigrations(databaseURL, migrationsPath string) error {
	log := logging.WithComponent("migrate").WithField("source", migrationsPath)

	m, err := newMigrate(databaseURL, migrationsPath)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.WithError(err).Error("migration up failed")
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.WithFields(map[string]interface{}{"version": version, "dirty": dirty}).Info("migrations up to date")
	return nil
}

// RollbackMigrations reverts the single most recently applied migration.
func RollbackMigrations(databaseURL, migrationsPath string) error {
	log := logging.WithComponent("migrate").WithField("source", migrationsPath)

	m, err := newMigrate(databaseURL, migrationsPath)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
		log.WithError(err).Error("migration rollback failed")
		return fmt.Errorf("rollback migration: %w", err)
	}

	log.Info("rolled back one migration")
	return nil
}

// MigrationVersion reports the schema's current migration version and
// whether the last migration left it dirty (applied partway, then failed).
func MigrationVersion(databaseURL, migrationsPath string) (version uint, dirty bool, err error) {
	m, err := newMigrate(databaseURL, migrationsPath)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		_, _ = m.Close() // nolint:errcheck // cleanup in defer
	}()

	version, dirty, err = m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return 0, false, fmt.Errorf("get migration version: %w", err)
	}

	return version, dirty, nil
}
