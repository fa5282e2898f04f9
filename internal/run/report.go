package run

import (
	"log/slog"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/metrics"
	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// maxReportedFailures caps how many failure messages the report logs.
const maxReportedFailures = 10

// Report is the run summary: the terminal state of the orchestrator.
type Report struct {
	NoWork            bool                  `json:"no_work"`
	IsRetry           bool                  `json:"is_retry"`
	PhraseID          int64                 `json:"phrase_id"`
	Phrase            string                `json:"phrase"`
	Total             int                   `json:"total"`
	Succeeded         int                   `json:"succeeded"`
	Failed            int                   `json:"failed"`
	NetworkFailures   int                   `json:"network_failures"`
	OtherFailures     int                   `json:"other_failures"`
	SuccessRate       float64               `json:"success_rate"`
	PremiumSucceeded  int                   `json:"premium_succeeded"`
	StandardSucceeded int                   `json:"standard_succeeded"`
	RetryScheduled    bool                  `json:"retry_scheduled"`
	RetryDelay        time.Duration         `json:"retry_delay"`
	Metrics           metrics.Snapshot      `json:"metrics"`
	Stats             *models.DeliveryStats `json:"stats,omitempty"`
}

// ExitCode maps the report to the process exit contract: 0 when at least one
// delivery succeeded or there was no work, 1 when every delivery failed.
func (r *Report) ExitCode() int {
	if r.NoWork || r.Succeeded > 0 {
		return 0
	}
	return 1
}

// Log emits the structured end-of-run report.
func (r *Report) Log() {
	if r.NoWork {
		slog.Info("run report: no work to do")
		return
	}

	slog.Info("run report",
		"is_retry", r.IsRetry,
		"phrase_id", r.PhraseID,
		"phrase", r.Phrase,
		"total", r.Total,
		"succeeded", r.Succeeded,
		"failed", r.Failed,
		"network_failures", r.NetworkFailures,
		"other_failures", r.OtherFailures,
		"success_rate_pct", r.SuccessRate,
		"premium_succeeded", r.PremiumSucceeded,
		"standard_succeeded", r.StandardSucceeded,
		"total_duration", r.Metrics.TotalDuration,
		"mean_send_duration", r.Metrics.MeanSendDuration,
		"deferred_retries_succeeded", r.Metrics.DeferredRetriesSucceeded,
	)

	if r.RetryScheduled {
		slog.Info("run report: deferred retry scheduled",
			"recipients", r.NetworkFailures, "cooldown", r.RetryDelay)
	}

	for i, msg := range r.Metrics.Failures {
		if i >= maxReportedFailures {
			slog.Warn("run report: additional failures omitted",
				"omitted", len(r.Metrics.Failures)-maxReportedFailures)
			break
		}
		slog.Warn("run report: failure", "message", msg)
	}

	if r.Stats != nil {
		slog.Info("run report: today's delivery stats",
			"total_today", r.Stats.TotalToday,
			"succeeded_today", r.Stats.SucceededToday,
			"failed_today", r.Stats.FailedToday,
			"success_rate_today_pct", r.Stats.SuccessRate)
	}
}
