// Package pipeline runs the daily acquisition cycle: price history first,
// then fundamentals, then the derived products (ratios, indicators), then
// quota persistence. Prices run before fundamentals so ratio computation
// has a same-day close to work from.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/batch"
	"github.com/aristath/harvest/internal/domain"
	"github.com/aristath/harvest/internal/indicators"
	"github.com/aristath/harvest/internal/pricecheck"
	"github.com/aristath/harvest/internal/ratelimit"
	"github.com/aristath/harvest/internal/ratios"
	"github.com/aristath/harvest/internal/waterfall"
)

// indicatorWindow is how many stored bars feed indicator computation.
// The longest lookback (MACD signal) needs 35; 250 covers a trading year.
const indicatorWindow = 250

// Acquirer runs the provider waterfall for one ticker.
type Acquirer interface {
	AcquireFundamentals(ctx context.Context, ticker string) (*waterfall.AcquisitionResult, error)
	AcquirePriceHistory(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, string, error)
}

// SnapshotStore persists fundamental snapshots.
type SnapshotStore interface {
	Upsert(snapshot *domain.FundamentalSnapshot) error
}

// PriceStore persists and serves daily price bars.
type PriceStore interface {
	UpsertBars(ticker string, bars []domain.PriceBar) error
	GetRecentBars(ticker string, limit int) ([]domain.PriceBar, error)
	GetLatestClose(ticker string) (float64, bool, error)
}

// DerivedStore persists ratio and indicator sets.
type DerivedStore interface {
	UpsertRatios(set *domain.RatioSet) error
	UpsertIndicators(set *domain.IndicatorSet) error
}

// QuotaStore persists quota usage between runs.
type QuotaStore interface {
	SaveAll(statuses []ratelimit.QuotaStatus) error
}

// QuotaSource reports current quota usage.
type QuotaSource interface {
	Snapshot() []ratelimit.QuotaStatus
}

// Service orchestrates the daily run.
type Service struct {
	acquirer     Acquirer
	orchestrator *batch.Orchestrator
	validator    *pricecheck.Validator
	engine       *indicators.Engine
	snapshots    SnapshotStore
	prices       PriceStore
	derived      DerivedStore
	quotaStore   QuotaStore
	quotaSource  QuotaSource

	opts        batch.Options
	historyDays int
	now         func() time.Time
	log         zerolog.Logger
}

// Deps bundles the service's collaborators.
type Deps struct {
	Acquirer     Acquirer
	Orchestrator *batch.Orchestrator
	Validator    *pricecheck.Validator
	Engine       *indicators.Engine
	Snapshots    SnapshotStore
	Prices       PriceStore
	Derived      DerivedStore
	QuotaStore   QuotaStore
	QuotaSource  QuotaSource
}

// New creates the pipeline service.
func New(deps Deps, opts batch.Options, historyDays int, log zerolog.Logger) *Service {
	if historyDays <= 0 {
		historyDays = 365
	}
	return &Service{
		acquirer:     deps.Acquirer,
		orchestrator: deps.Orchestrator,
		validator:    deps.Validator,
		engine:       deps.Engine,
		snapshots:    deps.Snapshots,
		prices:       deps.Prices,
		derived:      deps.Derived,
		quotaStore:   deps.QuotaStore,
		quotaSource:  deps.QuotaSource,
		opts:         opts,
		historyDays:  historyDays,
		now:          time.Now,
		log:          log.With().Str("component", "pipeline").Logger(),
	}
}

// SetClock overrides the service's time source. Used in tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RunDaily executes the full cycle for the ticker universe. Per-ticker
// failures are recorded in the report; only a context cancellation stops
// the run early.
func (s *Service) RunDaily(ctx context.Context, tickers []string) *RunReport {
	started := s.now()
	report := newRunReport(started)

	s.log.Info().Int("tickers", len(tickers)).Msg("Starting daily run")

	priceResult := s.orchestrator.RunBatch(ctx, tickers, s.processPrices(report), s.opts)
	report.recordPhase("prices", priceResult)
	report.PriceRunID = priceResult.RunID

	fundResult := s.orchestrator.RunBatch(ctx, tickers, s.processFundamentals(report), s.opts)
	report.recordPhase("fundamentals", fundResult)
	report.FundamentalsRunID = fundResult.RunID

	if err := s.quotaStore.SaveAll(s.quotaSource.Snapshot()); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist quota state")
		report.QuotaSaveError = err.Error()
	}

	report.Finished = s.now()
	s.log.Info().
		Int("prices_ok", len(priceResult.Successful)).
		Int("prices_failed", len(priceResult.Failed)).
		Int("fundamentals_ok", len(fundResult.Successful)).
		Int("fundamentals_failed", len(fundResult.Failed)).
		Dur("elapsed", report.Finished.Sub(started)).
		Msg("Daily run complete")
	return report
}

// processPrices fetches, validates, stores price history and recomputes
// indicators for one ticker.
func (s *Service) processPrices(report *RunReport) batch.WorkFunc {
	return func(ctx context.Context, ticker string) error {
		to := s.now()
		from := to.AddDate(0, 0, -s.historyDays)

		bars, source, err := s.acquirer.AcquirePriceHistory(ctx, ticker, from, to)
		if err != nil {
			return err
		}

		history, err := s.prices.GetRecentBars(ticker, indicatorWindow)
		if err != nil {
			return err
		}

		clean, repairs := s.validator.ValidateAndInterpolate(bars, history)
		if err := s.prices.UpsertBars(ticker, clean); err != nil {
			return err
		}
		report.recordPriceSource(source, len(repairs))

		stored, err := s.prices.GetRecentBars(ticker, indicatorWindow)
		if err != nil {
			return err
		}
		set := s.engine.Compute(ticker, stored)
		if err := s.derived.UpsertIndicators(set); err != nil {
			return err
		}
		report.addIndicators(set)
		return nil
	}
}

// processFundamentals runs the waterfall, stores the snapshot, and
// computes ratios against the latest stored close.
func (s *Service) processFundamentals(report *RunReport) batch.WorkFunc {
	return func(ctx context.Context, ticker string) error {
		result, err := s.acquirer.AcquireFundamentals(ctx, ticker)
		if err != nil {
			return err
		}

		report.recordAcquisition(result)
		if result.Snapshot.FilledCount() == 0 {
			// Nothing to store; the waterfall already logged the miss.
			return nil
		}

		if err := s.snapshots.Upsert(result.Snapshot); err != nil {
			return err
		}

		price, haveClose, err := s.prices.GetLatestClose(ticker)
		if err != nil {
			return err
		}
		if !haveClose {
			s.log.Debug().Str("ticker", ticker).Msg("No close available, skipping ratios")
			return nil
		}

		set := ratios.Calculate(result.Snapshot, price)
		if err := s.derived.UpsertRatios(set); err != nil {
			return err
		}
		report.addRatios(set)
		return nil
	}
}
