package app

import (
	"context"
	"errors"
	"fmt"

	"factorpanel/internal"
	"factorpanel/internal/calculator"
	"factorpanel/internal/domain"

	"go.uber.org/zap"
)

// PipelineHandler wires the full run: signal construction, ranking,
// backtest and the two downstream consumers (performance statistics and
// the Fama-MacBeth significance test).
type PipelineHandler struct {
	FactorEngine internal.FactorEngine
	Ranker       internal.CrossSectionalRanker
	Backtest     BacktestHandler
	Log          *zap.SugaredLogger
}

func NewPipelineHandler(log *zap.SugaredLogger) PipelineHandler {
	return PipelineHandler{
		FactorEngine: internal.NewFactorEngine(),
		Ranker:       internal.NewCrossSectionalRanker(),
		Backtest:     NewBacktestHandler(log),
		Log:          log,
	}
}

type RunPipelineInput struct {
	Dataset   *domain.MarketDataset
	Benchmark domain.BenchmarkSeries
	Options   internal.PipelineOptions
	// control names for the Fama-MacBeth regression
	Controls []string
}

type RunPipelineResponse struct {
	ReturnSeries *domain.PortfolioReturnSeries
	Performance  *calculator.PerformanceReport
	// nil when the estimator call failed with InsufficientDates - that
	// failure is local to the estimator, not the run
	FamaMacBeth *calculator.FamaMacBethSummary
	Profile     *domain.Profile
}

// Run executes the whole pipeline on a materialized dataset. The run is
// deterministic: identical inputs produce identical outputs.
func (h PipelineHandler) Run(ctx context.Context, in RunPipelineInput) (*RunPipelineResponse, error) {
	if err := in.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	profile := domain.GetProfile(ctx)

	_, endSpan := profile.StartNewSpan("compute signal")
	signalResponse, err := h.FactorEngine.ComputeSignal(internal.ComputeSignalInput{
		Dataset: in.Dataset,
		Options: in.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("signal construction failed: %w", err)
	}
	endSpan()
	h.Log.Infow("computed signal panel",
		"dates", len(signalResponse.Panel.Dates),
		"excludedInsufficientHistory", signalResponse.ExcludedInsufficientHistory,
		"excludedIncompleteForward", signalResponse.ExcludedIncompleteForward,
	)

	_, endSpan = profile.StartNewSpan("rank cross-sections")
	rankedPanel, err := h.Ranker.RankPanel(signalResponse.Panel, in.Options.NumBuckets)
	if err != nil {
		return nil, fmt.Errorf("ranking failed: %w", err)
	}
	endSpan()
	if len(rankedPanel.Skipped) > 0 {
		h.Log.Infow("skipped degenerate cross-sections", "count", len(rankedPanel.Skipped))
	}

	_, endSpan = profile.StartNewSpan("backtest")
	series, err := h.Backtest.Run(BacktestInput{
		Dataset:     in.Dataset,
		RankedPanel: rankedPanel,
		Options:     in.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("backtest failed: %w", err)
	}
	endSpan()

	_, endSpan = profile.StartNewSpan("fama-macbeth")
	summary, err := calculator.Estimate(calculator.EstimateInput{
		Panel:         signalResponse.Panel,
		Controls:      in.Controls,
		MinSampleSize: in.Options.MinRegressionSample,
		NeweyWestLags: in.Options.NeweyWestLags,
	})
	var insufficientDates calculator.InsufficientDatesError
	if errors.As(err, &insufficientDates) {
		h.Log.Warnw("fama-macbeth sample too thin - skipping significance test",
			"includedDates", insufficientDates.IncludedDates)
		summary = nil
	} else if err != nil {
		return nil, fmt.Errorf("fama-macbeth estimation failed: %w", err)
	}
	endSpan()

	_, endSpan = profile.StartNewSpan("performance report")
	benchmarkReturns, err := in.Benchmark.Align(in.Dataset.Calendar)
	if err != nil {
		return nil, fmt.Errorf("benchmark misaligned: %w", err)
	}
	report, err := calculator.Summarize(calculator.SummarizeInput{
		Series:              series,
		BenchmarkReturns:    benchmarkReturns,
		RiskFreeRate:        in.Options.RiskFreeRate,
		CostPerUnitTurnover: in.Options.CostPerUnitTurnover,
	})
	if err != nil {
		return nil, fmt.Errorf("performance summary failed: %w", err)
	}
	endSpan()
	profile.End()

	return &RunPipelineResponse{
		ReturnSeries: series,
		Performance:  report,
		FamaMacBeth:  summary,
		Profile:      profile,
	}, nil
}
