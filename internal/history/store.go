// Package history keeps an audit log of ledger submission attempts in a
// local SQLite database. It is operational record-keeping only: write
// failures are logged by callers, never surfaced to the user.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"

	"github.com/shopspring/decimal"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 1

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: submissions",
		SQL: `
		CREATE TABLE IF NOT EXISTS submissions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id  TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			category    TEXT NOT NULL,
			amount      TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			message     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_submissions_user ON submissions(user_id, created_at);
		`,
	},
}

// Store is the SQLite-backed submission log.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// runMigrations applies all pending schema migrations, tracked in the
// schema_version table. Running it on an up-to-date database is a no-op.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying history migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// Record appends one submission attempt.
func (s *Store) Record(ctx context.Context, rec domain.SubmissionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (request_id, user_id, category, amount, outcome, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.UserID, string(rec.Category), rec.Amount.StringFixed(2),
		rec.Outcome, rec.Message, createdAt,
	)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// RecentForUser returns the user's latest submission attempts, newest first.
func (s *Store) RecentForUser(ctx context.Context, userID string, limit int) ([]domain.SubmissionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, user_id, category, amount, outcome, message, created_at
		 FROM submissions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.SubmissionRecord
	for rows.Next() {
		var rec domain.SubmissionRecord
		var category, amount string
		if err := rows.Scan(&rec.RequestID, &rec.UserID, &category, &amount, &rec.Outcome, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		rec.Category = domain.Category(category)
		rec.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
