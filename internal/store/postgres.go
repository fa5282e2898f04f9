// Package store provides storage backends for PhrasePipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PhrasePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres store ready")

	return &PostgresStore{db: db}, nil
}

// PhraseOfDay looks up the phrase assigned to date's day of the year.
func (s *PostgresStore) PhraseOfDay(ctx context.Context, date time.Time) (*models.Phrase, error) {
	dayOfYear := date.YearDay()
	row := s.db.QueryRowContext(ctx,
		`SELECT id, phrase, meaning, example FROM phrases WHERE day_of_year = $1`, dayOfYear)

	phrase, err := scanPhrase(row)
	if err == sql.ErrNoRows {
		slog.Warn("PostgresStore.PhraseOfDay: no phrase configured", "day_of_year", dayOfYear)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.PhraseOfDay failed", "error", err, "day_of_year", dayOfYear)
		return nil, fmt.Errorf("failed to query phrase for day %d: %w", dayOfYear, err)
	}
	return phrase, nil
}

// ActiveRecipients returns active recipients, premium tier first.
func (s *PostgresStore) ActiveRecipients(ctx context.Context) ([]models.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, name, tier FROM recipients WHERE active ORDER BY (tier = 'premium') DESC, name ASC`)
	if err != nil {
		slog.Error("PostgresStore.ActiveRecipients query failed", "error", err)
		return nil, fmt.Errorf("failed to query active recipients: %w", err)
	}
	defer rows.Close()

	return collectRecipients(rows)
}

// RecordDelivery appends one trace row for a delivery attempt.
func (s *PostgresStore) RecordDelivery(ctx context.Context, phraseID, recipientID int64, result models.DeliveryResult, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_trace (phrase_id, recipient_id, result, error) VALUES ($1, $2, $3, $4)`,
		phraseID, recipientID, result, nilIfEmpty(errMsg))
	if err != nil {
		slog.Error("PostgresStore.RecordDelivery failed",
			"error", err, "phrase_id", phraseID, "recipient_id", recipientID)
		return fmt.Errorf("failed to insert delivery trace: %w", err)
	}
	return nil
}

// DeliveryStats summarizes today's trace rows.
func (s *PostgresStore) DeliveryStats(ctx context.Context) (models.DeliveryStats, error) {
	var stats models.DeliveryStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE sent_at::date = CURRENT_DATE),
			COUNT(*) FILTER (WHERE sent_at::date = CURRENT_DATE AND result IN ('sent', 'sent_retry')),
			COUNT(*)
		FROM delivery_trace`).Scan(&stats.TotalToday, &stats.SucceededToday, &stats.TotalAllTime)
	if err != nil {
		slog.Error("PostgresStore.DeliveryStats failed", "error", err)
		return stats, fmt.Errorf("failed to query delivery stats: %w", err)
	}
	finishStats(&stats)
	return stats, nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
