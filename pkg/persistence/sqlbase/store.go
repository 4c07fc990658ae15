package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kindred-org/kindred/pkg/persistence"
)

// Store implements persistence.Persistence on top of a database/sql handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger

	automationRepo *AutomationRepository
	logRepo        *LogRepository
	onboardingRepo *OnboardingRepository
}

// NewStore wires the shared repositories to an open, migrated database.
func NewStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	base := repository{db: db, dialect: dialect, logger: logger}

	return &Store{
		db:             db,
		dialect:        dialect,
		logger:         logger,
		automationRepo: &AutomationRepository{repository: base},
		logRepo:        &LogRepository{repository: base},
		onboardingRepo: &OnboardingRepository{repository: base},
	}
}

func (s *Store) AutomationRepository() persistence.AutomationRepository {
	return s.automationRepo
}

func (s *Store) LogRepository() persistence.LogRepository {
	return s.logRepo
}

func (s *Store) OnboardingRepository() persistence.OnboardingRepository {
	return s.onboardingRepo
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// DB exposes the handle for backend specific maintenance.
func (s *Store) DB() *sql.DB {
	return s.db
}

type repository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

type scanner interface {
	Scan(dest ...any) error
}

func (r repository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func (r repository) rollback(ctx context.Context, tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.ErrorContext(ctx, "failed to rollback transaction", "error", err)
	}
}

// encodeJSON marshals v for a JSON column. Strings bind cleanly to both JSONB and TEXT.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func encodeNullJSON(v any, isNil bool) (any, error) {
	if isNil {
		return nil, nil
	}

	return encodeJSON(v)
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	return json.Unmarshal(data, v)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time.UTC()

	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	v := s.String

	return &v
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}

	return *s
}
