// Package sqlite provides the SQLite persistence backend for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kindred-org/kindred/pkg/persistence/sqlbase"
	"github.com/mattn/go-sqlite3"
)

const (
	memoryPath      = ":memory:"
	busyTimeoutMS   = 5000
	dirPermissions  = 0750
	filePermissions = 0600
)

// Dialect is the SQLite flavour of the shared SQL repositories.
var Dialect = sqlbase.Dialect{
	Name:           "sqlite",
	TextTimestamps: true,
	IsUniqueViolation: func(err error) bool {
		var sqliteErr sqlite3.Error

		return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	*sqlbase.Store

	path string
}

// NewPersistence opens the database at databaseURL (sqlite://path, a plain path or :memory:)
// and applies the migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	path := strings.TrimPrefix(databaseURL, "sqlite://")
	if path == "" {
		path = memoryPath
	}

	connStr := memoryPath
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}

		connStr = fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMS)
	}

	database, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// One connection serialises writers and keeps an in-memory database alive.
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	if path != memoryPath {
		database.SetConnMaxLifetime(time.Hour)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if path != memoryPath {
		_ = os.Chmod(path, filePermissions)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, Dialect, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{Store: sqlbase.NewStore(database, Dialect, logger), path: path}, nil
}

// Path returns the database file path, or :memory:.
func (p *Persistence) Path() string {
	return p.path
}
