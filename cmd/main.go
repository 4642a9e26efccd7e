package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"factorpanel/internal"
	"factorpanel/internal/app"
	"factorpanel/internal/domain"
	"factorpanel/internal/logger"

	"github.com/spf13/cobra"
)

type runFlags struct {
	pricesPath    string
	benchmarkPath string

	lookbackDays        int
	horizonDays         int
	numBuckets          int
	rebalanceEvery      int
	longBucket          int
	shortBucket         int
	riskFreeRate        float64
	costPerUnitTurnover float64
	neweyWestLags       int
	factorExpression    string
	controls            []string

	printProfile bool
	printDaily   bool
}

func main() {
	flags := runFlags{}
	defaults := internal.DefaultOptions()

	rootCmd := &cobra.Command{
		Use:   "factorpanel",
		Short: "backtest a cross-sectional momentum factor and test its significance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	rootCmd.Flags().StringVar(&flags.pricesPath, "prices", "", "csv of (symbol, date, adjusted_close, volume) rows")
	rootCmd.Flags().StringVar(&flags.benchmarkPath, "benchmark", "", "csv of (date, return) benchmark rows")
	rootCmd.Flags().IntVar(&flags.lookbackDays, "lookback", defaults.LookbackDays, "momentum lookback in trading days")
	rootCmd.Flags().IntVar(&flags.horizonDays, "horizon", defaults.HorizonDays, "forward return horizon in trading days")
	rootCmd.Flags().IntVar(&flags.numBuckets, "buckets", defaults.NumBuckets, "number of rank buckets")
	rootCmd.Flags().IntVar(&flags.rebalanceEvery, "rebalance-every", defaults.RebalanceFrequencyDays, "rebalance cadence in trading days")
	rootCmd.Flags().IntVar(&flags.longBucket, "long-bucket", defaults.LongBucket, "bucket held long")
	rootCmd.Flags().IntVar(&flags.shortBucket, "short-bucket", defaults.ShortBucket, "bucket held short")
	rootCmd.Flags().Float64Var(&flags.riskFreeRate, "risk-free", defaults.RiskFreeRate, "annualized risk-free rate")
	rootCmd.Flags().Float64Var(&flags.costPerUnitTurnover, "cost-per-turnover", 0, "post-hoc return haircut per unit of rebalance turnover")
	rootCmd.Flags().IntVar(&flags.neweyWestLags, "newey-west-lags", 0, "bartlett lag for fama-macbeth standard errors")
	rootCmd.Flags().StringVar(&flags.factorExpression, "factor-expression", "", "goval expression overriding the built-in momentum signal")
	rootCmd.Flags().StringSliceVar(&flags.controls, "controls", []string{internal.ControlVolatility, internal.ControlLiquidity}, "control exposures for the fama-macbeth regression")
	rootCmd.Flags().BoolVar(&flags.printProfile, "profile", false, "include stage timings in the output")
	rootCmd.Flags().BoolVar(&flags.printDaily, "daily", false, "include the daily return series in the output")
	_ = rootCmd.MarkFlagRequired("prices")
	_ = rootCmd.MarkFlagRequired("benchmark")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, flags runFlags) error {
	log := logger.New()

	opts := internal.DefaultOptions()
	opts.LookbackDays = flags.lookbackDays
	opts.HorizonDays = flags.horizonDays
	opts.NumBuckets = flags.numBuckets
	opts.RebalanceFrequencyDays = flags.rebalanceEvery
	opts.LongBucket = flags.longBucket
	opts.ShortBucket = flags.shortBucket
	opts.RiskFreeRate = flags.riskFreeRate
	opts.CostPerUnitTurnover = flags.costPerUnitTurnover
	opts.NeweyWestLags = flags.neweyWestLags
	opts.FactorExpression = flags.factorExpression
	if err := opts.Validate(); err != nil {
		return err
	}

	pricesFile, err := os.Open(flags.pricesPath)
	if err != nil {
		return fmt.Errorf("could not open prices file: %w", err)
	}
	defer pricesFile.Close()
	dataset, err := internal.LoadPrices(pricesFile)
	if err != nil {
		return err
	}
	log.Infow("loaded dataset",
		"symbols", len(dataset.Symbols()),
		"tradingDays", len(dataset.Calendar),
	)

	benchmarkFile, err := os.Open(flags.benchmarkPath)
	if err != nil {
		return fmt.Errorf("could not open benchmark file: %w", err)
	}
	defer benchmarkFile.Close()
	benchmark, err := internal.LoadBenchmark(benchmarkFile)
	if err != nil {
		return err
	}

	profile, _ := domain.NewProfile()
	ctx = domain.NewCtxWithProfile(ctx, profile)

	pipeline := app.NewPipelineHandler(log)
	response, err := pipeline.Run(ctx, app.RunPipelineInput{
		Dataset:   dataset,
		Benchmark: benchmark,
		Options:   opts,
		Controls:  flags.controls,
	})
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"runId":       response.ReturnSeries.RunID,
		"performance": response.Performance,
		"famaMacbeth": response.FamaMacBeth,
		"rebalances":  len(response.ReturnSeries.Rebalances),
	}
	if flags.printDaily {
		out["daily"] = response.ReturnSeries.Daily
	}
	if flags.printProfile {
		out["profile"] = response.Profile.Spans
	}

	bytes, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal run output: %w", err)
	}
	fmt.Println(string(bytes))

	return nil
}
