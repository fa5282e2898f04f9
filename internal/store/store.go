// Package store provides storage backends for PhrasePipe.
//
// It defines the read and trace operations the dispatch core consumes and
// implements them over SQLite (default) and PostgreSQL.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// Store is the persistence surface the run orchestrator and dispatcher use:
// the two reads the core needs, the per-attempt delivery trace, and the
// report statistics.
type Store interface {
	// PhraseOfDay returns the phrase assigned to date's day of the year,
	// or (nil, nil) when none is configured.
	PhraseOfDay(ctx context.Context, date time.Time) (*models.Phrase, error)

	// ActiveRecipients returns every active recipient, premium first.
	ActiveRecipients(ctx context.Context) ([]models.Recipient, error)

	// RecordDelivery appends one delivery trace row.
	RecordDelivery(ctx context.Context, phraseID, recipientID int64, result models.DeliveryResult, errMsg string) error

	// DeliveryStats summarizes today's trace rows.
	DeliveryStats(ctx context.Context) (models.DeliveryStats, error)

	// Close releases the underlying database handle.
	Close() error
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped connection strings
// and "sqlite" for everything else (a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
