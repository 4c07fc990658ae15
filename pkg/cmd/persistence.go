package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/kindred-org/kindred/pkg/persistence/file"
	"github.com/kindred-org/kindred/pkg/persistence/postgresql"
	"github.com/kindred-org/kindred/pkg/persistence/sqlite"
)

var ErrUnsupportedPersistence = errors.New("unsupported persistence provider")

// NewPersistence opens the store named by databaseURL. A URL without a scheme
// is a directory for file persistence.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return newFilePersistence(logger, databaseURL)
	}

	switch strings.ToLower(scheme) {
	case "file":
		return newFilePersistence(logger, rest)
	case "postgres", "postgresql":
		logger.InfoContext(ctx, "Using PostgreSQL persistence")

		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite", "sqlite3":
		logger.InfoContext(ctx, "Using SQLite persistence", "path", rest)

		return sqlite.NewPersistence(ctx, logger, rest)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPersistence, scheme)
	}
}

func newFilePersistence(logger *slog.Logger, root string) (persistence.Persistence, error) {
	logger.Info("Using file persistence", "root", root)

	store, err := file.NewPersistence(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open file persistence: %w", err)
	}

	return store, nil
}
