// Package store provides storage backends for PhrasePipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/PhrasePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the default file-backed store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path
// to the database). The parent directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite store ready", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

// PhraseOfDay looks up the phrase assigned to date's day of the year.
func (s *SQLiteStore) PhraseOfDay(ctx context.Context, date time.Time) (*models.Phrase, error) {
	dayOfYear := date.YearDay()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, phrase, meaning, example FROM phrases WHERE day_of_year = ?`, dayOfYear)

	phrase, err := scanPhrase(row)
	if err == sql.ErrNoRows {
		slog.Warn("SQLiteStore.PhraseOfDay: no phrase configured", "day_of_year", dayOfYear)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.PhraseOfDay failed", "error", err, "day_of_year", dayOfYear)
		return nil, fmt.Errorf("failed to query phrase for day %d: %w", dayOfYear, err)
	}
	slog.Debug("SQLiteStore.PhraseOfDay found phrase", "id", phrase.ID, "day_of_year", dayOfYear)
	return phrase, nil
}

// ActiveRecipients returns active recipients, premium tier first. Rows with
// an undeliverable address are skipped with a warning rather than failing
// the run.
func (s *SQLiteStore) ActiveRecipients(ctx context.Context) ([]models.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, name, tier FROM recipients WHERE active = 1 ORDER BY CASE WHEN tier = 'premium' THEN 0 ELSE 1 END, name ASC`)
	if err != nil {
		slog.Error("SQLiteStore.ActiveRecipients query failed", "error", err)
		return nil, fmt.Errorf("failed to query active recipients: %w", err)
	}
	defer rows.Close()

	return collectRecipients(rows)
}

// RecordDelivery appends one trace row for a delivery attempt.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, phraseID, recipientID int64, result models.DeliveryResult, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_trace (phrase_id, recipient_id, result, error) VALUES (?, ?, ?, ?)`,
		phraseID, recipientID, result, nilIfEmpty(errMsg))
	if err != nil {
		slog.Error("SQLiteStore.RecordDelivery failed",
			"error", err, "phrase_id", phraseID, "recipient_id", recipientID)
		return fmt.Errorf("failed to insert delivery trace: %w", err)
	}
	return nil
}

// DeliveryStats summarizes today's trace rows.
func (s *SQLiteStore) DeliveryStats(ctx context.Context) (models.DeliveryStats, error) {
	var stats models.DeliveryStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE DATE(sent_at) = DATE('now')),
			COUNT(*) FILTER (WHERE DATE(sent_at) = DATE('now') AND result IN ('sent', 'sent_retry')),
			COUNT(*)
		FROM delivery_trace`).Scan(&stats.TotalToday, &stats.SucceededToday, &stats.TotalAllTime)
	if err != nil {
		slog.Error("SQLiteStore.DeliveryStats failed", "error", err)
		return stats, fmt.Errorf("failed to query delivery stats: %w", err)
	}
	finishStats(&stats)
	return stats, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
