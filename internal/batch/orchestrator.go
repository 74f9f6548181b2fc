// Package batch fans a ticker universe out across a bounded worker pool,
// in fixed-size batches with an inter-batch pause, retrying transient
// failures through the shared retry policy.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/retry"
)

// WorkFunc processes one ticker. Errors are recorded per ticker and never
// abort the batch.
type WorkFunc func(ctx context.Context, ticker string) error

// Options controls one batch run. Zero values fall back to the defaults.
type Options struct {
	MaxConcurrency int           // workers per batch, default 4
	BatchSize      int           // tickers per batch, default 25
	BatchPause     time.Duration // pause between batches, default 2s
	Policy         retry.Policy  // per-ticker retry policy
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.BatchPause < 0 {
		o.BatchPause = 0
	} else if o.BatchPause == 0 {
		o.BatchPause = 2 * time.Second
	}
	if o.Policy.MaxAttempts == 0 {
		o.Policy = retry.Default
	}
	return o
}

// Result is the outcome of a batch run, sufficient for an external
// reporting layer to render a summary.
type Result struct {
	RunID      string
	Started    time.Time
	Finished   time.Time
	Successful []string
	Failed     []string
	Errors     map[string]error
	Timings    map[string]time.Duration
}

// Orchestrator runs ticker batches. It holds no per-run state; one
// instance is shared by the whole pipeline.
type Orchestrator struct {
	log zerolog.Logger
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		log: log.With().Str("component", "batch_orchestrator").Logger(),
	}
}

// RunBatch processes tickers with bounded concurrency. The input list is
// deduplicated before dispatch, so no two concurrent invocations ever run
// for the same ticker within one batch run. Cancellation is coarse:
// in-flight work finishes, queued work is marked failed with the context
// error.
func (o *Orchestrator) RunBatch(ctx context.Context, tickers []string, work WorkFunc, opts Options) *Result {
	opts = opts.withDefaults()

	result := &Result{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Errors:  make(map[string]error),
		Timings: make(map[string]time.Duration),
	}
	defer func() { result.Finished = time.Now() }()

	unique := dedupe(tickers)
	o.log.Info().
		Str("run_id", result.RunID).
		Int("tickers", len(unique)).
		Int("batch_size", opts.BatchSize).
		Int("concurrency", opts.MaxConcurrency).
		Msg("Starting batch run")

	for start := 0; start < len(unique); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(unique) {
			end = len(unique)
		}
		o.runChunk(ctx, unique[start:end], work, opts, result)

		// Pause between batches to stay under provider burst limits,
		// independent of the per-call quota tracker.
		if end < len(unique) && opts.BatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.BatchPause):
			}
		}
	}

	o.log.Info().
		Str("run_id", result.RunID).
		Int("successful", len(result.Successful)).
		Int("failed", len(result.Failed)).
		Dur("elapsed", time.Since(result.Started)).
		Msg("Batch run complete")
	return result
}

// RunBatchWithFallback runs all tickers with the primary work function,
// then re-runs only the failed subset with the fallback function and merges
// both result sets.
func (o *Orchestrator) RunBatchWithFallback(ctx context.Context, tickers []string, primary, fallback WorkFunc, opts Options) *Result {
	first := o.RunBatch(ctx, tickers, primary, opts)
	if len(first.Failed) == 0 || fallback == nil {
		return first
	}

	o.log.Info().
		Str("run_id", first.RunID).
		Int("retrying", len(first.Failed)).
		Msg("Re-running failed tickers with fallback work function")

	second := o.RunBatch(ctx, first.Failed, fallback, opts)

	merged := &Result{
		RunID:      first.RunID,
		Started:    first.Started,
		Finished:   second.Finished,
		Successful: append([]string{}, first.Successful...),
		Failed:     second.Failed,
		Errors:     make(map[string]error),
		Timings:    make(map[string]time.Duration),
	}
	merged.Successful = append(merged.Successful, second.Successful...)
	for ticker, err := range second.Errors {
		merged.Errors[ticker] = err
	}
	for ticker, d := range first.Timings {
		merged.Timings[ticker] = d
	}
	for ticker, d := range second.Timings {
		merged.Timings[ticker] += d
	}
	return merged
}

// runChunk executes one batch of tickers on a worker pool.
func (o *Orchestrator) runChunk(ctx context.Context, tickers []string, work WorkFunc, opts Options, result *Result) {
	type outcome struct {
		ticker  string
		err     error
		elapsed time.Duration
	}

	jobs := make(chan string, len(tickers))
	outcomes := make(chan outcome, len(tickers))

	workers := opts.MaxConcurrency
	if len(tickers) < workers {
		workers = len(tickers)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range jobs {
				// Coarse stop: drain the queue without starting new work.
				if ctx.Err() != nil {
					outcomes <- outcome{ticker: ticker, err: ctx.Err()}
					continue
				}
				start := time.Now()
				err := opts.Policy.Do(ctx, func() error {
					return work(ctx, ticker)
				})
				outcomes <- outcome{ticker: ticker, err: err, elapsed: time.Since(start)}
			}
		}()
	}

	for _, ticker := range tickers {
		jobs <- ticker
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for oc := range outcomes {
		result.Timings[oc.ticker] = oc.elapsed
		if oc.err != nil {
			result.Failed = append(result.Failed, oc.ticker)
			result.Errors[oc.ticker] = oc.err
			o.log.Warn().Err(oc.err).Str("ticker", oc.ticker).Msg("Ticker failed")
		} else {
			result.Successful = append(result.Successful, oc.ticker)
		}
	}
}

// dedupe removes duplicate tickers, preserving first-seen order.
func dedupe(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
