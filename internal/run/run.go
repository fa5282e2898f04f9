// Package run drives one batch delivery invocation from start to finish.
//
// The orchestrator is not a long-lived service: each process invocation
// performs exactly one run (a deferred retry if one is due, otherwise a fresh
// send to all active recipients) and exits. An external scheduler re-invoking
// the binary is what eventually drives deferred recipients to delivery.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/dispatch"
	"github.com/BTreeMap/PhrasePipe/internal/metrics"
	"github.com/BTreeMap/PhrasePipe/internal/models"
	"github.com/BTreeMap/PhrasePipe/internal/retryqueue"
)

// DefaultRetryDelay is the cooldown before transiently-failed recipients are
// retried.
const DefaultRetryDelay = 30 * time.Minute

// PhraseSource supplies today's phrase. A nil phrase with a nil error means
// there is nothing to send today.
type PhraseSource interface {
	PhraseOfDay(ctx context.Context, date time.Time) (*models.Phrase, error)
}

// RecipientSource supplies the active recipient set.
type RecipientSource interface {
	ActiveRecipients(ctx context.Context) ([]models.Recipient, error)
}

// StatsSource optionally supplies delivery statistics for the report.
type StatsSource interface {
	DeliveryStats(ctx context.Context) (models.DeliveryStats, error)
}

// Config is the immutable per-run configuration, constructed once at process
// start and passed in by value.
type Config struct {
	BatchSize  int
	MaxWorkers int
	RetryDelay time.Duration
}

// Opts holds the orchestrator's collaborators.
type Opts struct {
	Phrases    PhraseSource
	Recipients RecipientSource
	Transport  dispatch.Transport
	Tracer     dispatch.Tracer
	Queue      *retryqueue.Store
	Stats      StatsSource
}

// Orchestrator executes the per-invocation state machine:
// CheckDeferred -> (Dispatch | FetchFresh) -> Dispatch -> Reconcile -> Report.
type Orchestrator struct {
	cfg  Config
	opts Opts
}

// NewOrchestrator creates an orchestrator for one invocation.
func NewOrchestrator(cfg Config, opts Opts) (*Orchestrator, error) {
	if opts.Phrases == nil || opts.Recipients == nil {
		return nil, errors.New("phrase and recipient sources are required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("retry queue store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = dispatch.DefaultBatchSize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = dispatch.DefaultMaxWorkers
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Orchestrator{cfg: cfg, opts: opts}, nil
}

// Run performs one complete run and returns its report. Only setup errors
// are returned; delivery failures are reflected in the report.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	collector := metrics.NewCollector()

	phrase, recipients, isRetry, err := o.selectWork(ctx)
	if err != nil {
		return nil, err
	}
	if phrase == nil || len(recipients) == 0 {
		slog.Warn("Orchestrator.Run: nothing to do", "phrase_found", phrase != nil, "recipients", len(recipients))
		return &Report{NoWork: true, Metrics: collector.Finalize()}, nil
	}

	collector.SetTotal(len(recipients))
	slog.Info("Orchestrator.Run: starting dispatch",
		"phrase_id", phrase.ID, "phrase", phrase.Excerpt(50),
		"recipients", len(recipients), "is_retry", isRetry)

	dispatcher := dispatch.NewDispatcher(o.opts.Transport, o.opts.Tracer, collector,
		dispatch.WithBatchSize(o.cfg.BatchSize),
		dispatch.WithMaxWorkers(o.cfg.MaxWorkers))
	succeeded, failed := dispatcher.Dispatch(ctx, *phrase, recipients, isRetry)

	o.reconcile(*phrase, failed)

	return o.report(ctx, *phrase, isRetry, succeeded, failed, collector), nil
}

// selectWork resolves the recipient set and phrase for this run: a due
// deferred-retry record if one exists, otherwise today's fresh batch.
func (o *Orchestrator) selectWork(ctx context.Context) (*models.Phrase, []models.Recipient, bool, error) {
	record, err := o.opts.Queue.Load()
	if err != nil {
		// PersistenceError: proceed with a fresh run, without deferred-retry
		// input for this invocation.
		slog.Error("Orchestrator.selectWork: retry queue unreadable, proceeding fresh", "error", err)
	}
	if record != nil {
		retriable := record.NetworkFailedRecipients()
		if len(retriable) > 0 {
			return &record.Phrase, retriable, true, nil
		}
		// A due record with no network failures has nothing to retry.
		slog.Info("Orchestrator.selectWork: due record holds no retriable recipients, clearing")
		if err := o.opts.Queue.Clear(); err != nil {
			slog.Error("Orchestrator.selectWork: clear failed", "error", err)
		}
	}

	phrase, err := o.opts.Phrases.PhraseOfDay(ctx, time.Now())
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to fetch phrase of the day: %w", err)
	}
	if phrase == nil {
		return nil, nil, false, nil
	}

	recipients, err := o.opts.Recipients.ActiveRecipients(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to fetch active recipients: %w", err)
	}
	return phrase, recipients, false, nil
}

// reconcile decides the fate of the retry queue slot: renewed transient
// failures re-create it, anything else clears it. Runs strictly after the
// worker pool has joined.
func (o *Orchestrator) reconcile(phrase models.Phrase, failed []models.FailedDelivery) {
	var transient []models.FailedDelivery
	for _, f := range failed {
		if f.IsNetworkError {
			transient = append(transient, f)
		}
	}

	if len(transient) > 0 {
		slog.Warn("Orchestrator.reconcile: scheduling deferred retry",
			"count", len(transient), "cooldown", o.cfg.RetryDelay)
		if err := o.opts.Queue.Save(phrase, transient, o.cfg.RetryDelay); err != nil {
			// Non-fatal: these recipients are already reported as failed in
			// this run's metrics; they simply will not be retried.
			slog.Error("Orchestrator.reconcile: save failed, retry lost", "error", err)
		}
		return
	}

	if err := o.opts.Queue.Clear(); err != nil {
		slog.Error("Orchestrator.reconcile: clear failed", "error", err)
	}
}

// report finalizes metrics and assembles the run summary.
func (o *Orchestrator) report(ctx context.Context, phrase models.Phrase, isRetry bool, succeeded []models.Recipient, failed []models.FailedDelivery, collector *metrics.Collector) *Report {
	snap := collector.Finalize()

	report := &Report{
		IsRetry:    isRetry,
		PhraseID:   phrase.ID,
		Phrase:     phrase.Excerpt(100),
		Total:      len(succeeded) + len(failed),
		Succeeded:  len(succeeded),
		Failed:     len(failed),
		Metrics:    snap,
		RetryDelay: o.cfg.RetryDelay,
	}
	for _, f := range failed {
		if f.IsNetworkError {
			report.NetworkFailures++
		} else {
			report.OtherFailures++
		}
	}
	report.RetryScheduled = report.NetworkFailures > 0
	for _, r := range succeeded {
		if r.Tier == models.TierPremium {
			report.PremiumSucceeded++
		} else {
			report.StandardSucceeded++
		}
	}
	if report.Total > 0 {
		report.SuccessRate = float64(report.Succeeded) / float64(report.Total) * 100
	}

	if o.opts.Stats != nil {
		stats, err := o.opts.Stats.DeliveryStats(ctx)
		if err != nil {
			slog.Warn("Orchestrator.report: delivery stats unavailable", "error", err)
		} else {
			report.Stats = &stats
		}
	}

	return report
}
