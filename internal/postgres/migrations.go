// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrate/*.sql
var schemaFiles embed.FS

// RunMigrations applies all pending schema migrations before the repositories
// are handed a connection. A dirty database (a previous run died mid-migration)
// is forced back to its recorded version and retried.
func RunMigrations(logger *slog.Logger, databaseURL string) error {
	source, err := iofs.New(schemaFiles, "migrate")
	if err != nil {
		return fmt.Errorf("failed to open embedded schema files: %w", err)
	}

	// golang-migrate selects the pgx/v5 driver by URL scheme.
	m, err := migrate.NewWithSourceInstance("iofs", source,
		strings.Replace(databaseURL, "postgres://", "pgx5://", 1))
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("No schema migrations applied yet")
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		logger.Warn("Schema is dirty, forcing recorded version before migrating", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force schema version %d: %w", version, err)
		}
	default:
		logger.Info("Current schema version", "version", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Schema migrations applied", "version", newVersion)
	return nil
}
