package store

import (
	"database/sql"
	"log/slog"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanPhrase scans a Phrase from a single sql.Row.
func scanPhrase(row *sql.Row) (*models.Phrase, error) {
	var p models.Phrase
	var meaning, example sql.NullString
	if err := row.Scan(&p.ID, &p.Text, &meaning, &example); err != nil {
		return nil, err
	}
	p.Meaning = meaning.String
	p.Example = example.String
	return &p, nil
}

// collectRecipients drains recipient rows, skipping entries whose address
// would never be deliverable.
func collectRecipients(rows *sql.Rows) ([]models.Recipient, error) {
	var recipients []models.Recipient
	for rows.Next() {
		var r models.Recipient
		var name sql.NullString
		if err := rows.Scan(&r.ID, &r.Address, &name, &r.Tier); err != nil {
			return nil, err
		}
		r.Name = name.String
		if err := models.ValidateEmail(r.Address); err != nil {
			slog.Warn("skipping recipient with undeliverable address", "id", r.ID, "error", err)
			continue
		}
		recipients = append(recipients, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slog.Debug("active recipients loaded", "count", len(recipients))
	return recipients, nil
}

// finishStats derives the remaining report fields from the raw counts.
func finishStats(stats *models.DeliveryStats) {
	stats.FailedToday = stats.TotalToday - stats.SucceededToday
	if stats.TotalToday > 0 {
		stats.SuccessRate = float64(stats.SucceededToday) / float64(stats.TotalToday) * 100
	}
}
