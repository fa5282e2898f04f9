// Package retryqueue persists transiently-failed recipients between process
// runs.
//
// The queue is a single slot: one JSON file holding the phrase, the failed
// recipients, and the earliest time a retry is allowed. A new save overwrites
// any prior record wholesale; the record is never mutated in place. All calls
// happen from the orchestrator goroutine after the worker pool has joined, so
// the only concurrency concern is making a save atomic against a reader from
// another process, which the write-to-temp-then-rename sequence covers.
package retryqueue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// QueueFileName is the name of the retry queue file inside the state directory.
const QueueFileName = "failed_users.json"

// Record is the single-slot queue entry. FailedUsers holds every failure from
// the run that created it; only the network-error entries are retried.
type Record struct {
	Timestamp   time.Time               `json:"timestamp"`
	Phrase      models.Phrase           `json:"phrase"`
	FailedUsers []models.FailedDelivery `json:"failed_users"`
	RetryAfter  time.Time               `json:"retry_after"`
}

// NetworkFailedRecipients returns the recipients eligible for a deferred
// retry, i.e. those whose failure was classified transient.
func (r *Record) NetworkFailedRecipients() []models.Recipient {
	var out []models.Recipient
	for _, f := range r.FailedUsers {
		if f.IsNetworkError {
			out = append(out, f.Recipient)
		}
	}
	return out
}

// Store is the file-backed retry queue.
type Store struct {
	path string
	now  func() time.Time
}

// Option defines a configuration option for the Store.
type Option func(*Store)

// WithClock overrides the store's time source. Tests use it to step across
// the cooldown window.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store whose record lives under stateDir.
func NewStore(stateDir string, opts ...Option) *Store {
	s := &Store{
		path: filepath.Join(stateDir, QueueFileName),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save overwrites the queue slot with the given failures, due again after
// cooldown. The caller treats a write failure as non-fatal: the recipients
// were already reported as failed in this run's metrics.
func (s *Store) Save(phrase models.Phrase, failed []models.FailedDelivery, cooldown time.Duration) error {
	now := s.now()
	record := Record{
		Timestamp:   now,
		Phrase:      phrase,
		FailedUsers: failed,
		RetryAfter:  now.Add(cooldown),
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		slog.Error("RetryQueue.Save: marshal failed", "error", err)
		return fmt.Errorf("failed to marshal retry queue record: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the slot
	// so a concurrent reader never observes a partial record.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), QueueFileName+".tmp-*")
	if err != nil {
		slog.Error("RetryQueue.Save: create temp failed", "error", err, "dir", filepath.Dir(s.path))
		return fmt.Errorf("failed to create temp retry queue file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		slog.Error("RetryQueue.Save: write failed", "error", err, "path", tmpPath)
		return fmt.Errorf("failed to write retry queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close retry queue file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		slog.Error("RetryQueue.Save: rename failed", "error", err, "path", s.path)
		return fmt.Errorf("failed to replace retry queue file: %w", err)
	}

	slog.Info("RetryQueue.Save: saved recipients for deferred retry",
		"count", len(failed), "retry_after", record.RetryAfter)
	return nil
}

// Load returns the stored record when its cooldown has elapsed. It returns
// (nil, nil) both when no record exists and when a record exists but is not
// yet due; the two cases differ only in logging.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RetryQueue.Load: read failed", "error", err, "path", s.path)
		return nil, fmt.Errorf("failed to read retry queue file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		slog.Error("RetryQueue.Load: unmarshal failed", "error", err, "path", s.path)
		return nil, fmt.Errorf("failed to parse retry queue file: %w", err)
	}

	now := s.now()
	if now.Before(record.RetryAfter) {
		slog.Info("RetryQueue.Load: record not yet due",
			"retry_after", record.RetryAfter,
			"minutes_left", record.RetryAfter.Sub(now).Minutes())
		return nil, nil
	}

	slog.Info("RetryQueue.Load: deferred retry is due", "count", len(record.FailedUsers))
	return &record, nil
}

// Clear deletes the queue slot. Clearing an empty slot is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		slog.Error("RetryQueue.Clear: remove failed", "error", err, "path", s.path)
		return fmt.Errorf("failed to clear retry queue file: %w", err)
	}
	slog.Info("RetryQueue.Clear: retry queue cleared")
	return nil
}
