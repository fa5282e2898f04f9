// Package dispatch fans a recipient set out to the delivery transport with
// bounded concurrency.
//
// Recipients are processed in fixed-size batches; within a batch each
// recipient gets one goroutine, gated by a worker semaphore. Batches are
// strictly sequential: batch N+1 does not start until every worker from
// batch N has joined, so peak concurrency is the worker count regardless of
// how many recipients the run has.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/classify"
	"github.com/BTreeMap/PhrasePipe/internal/metrics"
	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// Default dispatch configuration
const (
	// DefaultBatchSize is the number of recipients per batch.
	DefaultBatchSize = 50
	// DefaultMaxWorkers bounds concurrent sends within a batch.
	DefaultMaxWorkers = 5
)

// Transport delivers one phrase to one recipient. Implementations own their
// per-send timeout and local retry budget; the dispatcher records exactly one
// final outcome per recipient per run.
type Transport interface {
	Send(ctx context.Context, phrase models.Phrase, recipient models.Recipient) error
}

// Tracer records one delivery attempt for audit. Calls are fire-and-forget:
// a tracer failure must never abort the run.
type Tracer interface {
	RecordDelivery(ctx context.Context, phraseID, recipientID int64, result models.DeliveryResult, errMsg string) error
}

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	BatchSize  int
	MaxWorkers int
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithBatchSize sets the number of recipients per batch.
func WithBatchSize(n int) Option {
	return func(o *Opts) { o.BatchSize = n }
}

// WithMaxWorkers sets the concurrent send bound within a batch.
func WithMaxWorkers(n int) Option {
	return func(o *Opts) { o.MaxWorkers = n }
}

// Dispatcher drives one run's deliveries. It is constructed per run and
// shares its metrics collector with the orchestrator.
type Dispatcher struct {
	transport  Transport
	tracer     Tracer
	collector  *metrics.Collector
	batchSize  int
	maxWorkers int
}

// NewDispatcher creates a Dispatcher for one run.
func NewDispatcher(transport Transport, tracer Tracer, collector *metrics.Collector, opts ...Option) *Dispatcher {
	cfg := Opts{BatchSize: DefaultBatchSize, MaxWorkers: DefaultMaxWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	return &Dispatcher{
		transport:  transport,
		tracer:     tracer,
		collector:  collector,
		batchSize:  cfg.BatchSize,
		maxWorkers: cfg.MaxWorkers,
	}
}

// Dispatch delivers phrase to every recipient and partitions the results.
// Every recipient lands in exactly one of the returned slices; outcome
// arrival order within a batch is unspecified. isRetry marks a deferred
// retry run, which changes only the trace kind and the deferred-retry metric.
func (d *Dispatcher) Dispatch(ctx context.Context, phrase models.Phrase, recipients []models.Recipient, isRetry bool) ([]models.Recipient, []models.FailedDelivery) {
	var succeeded []models.Recipient
	var failed []models.FailedDelivery

	for start := 0; start < len(recipients); start += d.batchSize {
		end := start + d.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]
		slog.Info("Dispatcher.Dispatch: processing batch",
			"batch", start/d.batchSize+1, "size", len(batch), "is_retry", isRetry)

		for _, outcome := range d.dispatchBatch(ctx, phrase, batch, isRetry) {
			if outcome.OK {
				succeeded = append(succeeded, outcome.Recipient)
			} else {
				failed = append(failed, models.FailedDelivery{
					Recipient:      outcome.Recipient,
					Error:          outcome.Error,
					IsNetworkError: outcome.Transient,
				})
			}
		}
	}

	return succeeded, failed
}

// dispatchBatch sends to one batch concurrently and collects every outcome
// before returning. The results channel is the join point: it is drained
// only after the wait group has fully joined.
func (d *Dispatcher) dispatchBatch(ctx context.Context, phrase models.Phrase, batch []models.Recipient, isRetry bool) []models.DeliveryOutcome {
	results := make(chan models.DeliveryOutcome, len(batch))

	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxWorkers)
	for _, recipient := range batch {
		wg.Add(1)
		go func(r models.Recipient) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- d.deliver(ctx, phrase, r, isRetry)
		}(recipient)
	}
	wg.Wait()
	close(results)

	outcomes := make([]models.DeliveryOutcome, 0, len(batch))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// deliver performs one delivery attempt and folds the outcome into metrics
// and the trace. No failure escapes as an error or panic; everything is
// converted to a DeliveryOutcome.
func (d *Dispatcher) deliver(ctx context.Context, phrase models.Phrase, recipient models.Recipient, isRetry bool) (outcome models.DeliveryOutcome) {
	outcome.Recipient = recipient

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic sending to %s: %v", recipient.Address, r)
			slog.Error("Dispatcher.deliver: worker panic recovered", "recipient", recipient.Address, "panic", r)
			d.collector.RecordFailure(msg, false)
			d.trace(ctx, phrase.ID, recipient.ID, models.DeliveryError, msg)
			outcome = models.DeliveryOutcome{Recipient: recipient, Error: msg}
		}
	}()

	start := time.Now()
	err := d.transport.Send(ctx, phrase, recipient)
	elapsed := time.Since(start)

	if err == nil {
		d.collector.RecordSuccess(elapsed)
		result := models.DeliverySent
		if isRetry {
			d.collector.RecordDeferredRetrySuccess()
			result = models.DeliverySentRetry
		}
		d.trace(ctx, phrase.ID, recipient.ID, result, "")
		outcome.OK = true
		outcome.Duration = elapsed
		return outcome
	}

	msg := fmt.Sprintf("failed to send to %s: %v", recipient.Address, err)
	transient := classify.IsTransient(err.Error())
	slog.Error("Dispatcher.deliver: send failed",
		"recipient", recipient.Address, "error", err, "transient", transient)
	d.collector.RecordFailure(msg, transient)

	result := models.DeliveryError
	if transient {
		result = models.DeliveryNetworkError
	}
	d.trace(ctx, phrase.ID, recipient.ID, result, msg)

	outcome.Duration = elapsed
	outcome.Error = msg
	outcome.Transient = transient
	return outcome
}

// trace records a delivery attempt, logging and swallowing tracer errors.
func (d *Dispatcher) trace(ctx context.Context, phraseID, recipientID int64, result models.DeliveryResult, errMsg string) {
	if d.tracer == nil {
		return
	}
	if err := d.tracer.RecordDelivery(ctx, phraseID, recipientID, result, errMsg); err != nil {
		slog.Error("Dispatcher.trace: record delivery failed",
			"error", err, "phrase_id", phraseID, "recipient_id", recipientID)
	}
}
