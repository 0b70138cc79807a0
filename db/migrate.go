// Package db embeds the schema migrations and runs them with
// golang-migrate.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending migrations to the database at connURL
// (postgres:// or postgresql:// form). The schema_migrations table is
// managed by golang-migrate; already-applied migrations are skipped.
func Migrate(connURL string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbURL, err := toMigrateURL(connURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("closing migration source failed", "error", srcErr)
		}
		if dbErr != nil {
			logger.Warn("closing migration connection failed", "error", dbErr)
		}
	}()

	version, dirty, verErr := m.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return fmt.Errorf("check migration version: %w", verErr)
	}
	if dirty {
		return fmt.Errorf("database in dirty migration state (version=%d), manual cleanup required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	if final, _, err := m.Version(); err == nil {
		logger.Info("migrations completed", "version", final)
	}
	return nil
}

// toMigrateURL rewrites postgres:// and postgresql:// URLs to the
// pgx5:// scheme golang-migrate's pgx v5 driver expects.
func toMigrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parse database URL: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	case "pgx5":
		return connURL, nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
}
