package internal

import "fmt"

// PipelineOptions is the flat configuration surface consumed by the
// pipeline. It is passed explicitly through every call - never ambient
// state - and should be treated as immutable once built.
type PipelineOptions struct {
	// trading-day window the momentum signal looks back over
	LookbackDays int
	// trading-day window the forward return is realized over
	HorizonDays int
	NumBuckets  int
	// rebalance cadence in trading days
	RebalanceFrequencyDays int
	LongBucket             int
	ShortBucket            int
	RiskFreeRate           float64

	// minimum names per date for a Fama-MacBeth cross-sectional regression
	MinRegressionSample int
	// Bartlett lag for coefficient standard errors; 0 is the classic
	// stdev/sqrt(T) Fama-MacBeth estimator
	NeweyWestLags int
	// post-hoc cost haircut per unit of rebalance turnover, applied by
	// the performance analyzer rather than the backtest loop
	CostPerUnitTurnover float64

	// optional goval expression overriding the built-in momentum signal
	FactorExpression string
}

func DefaultOptions() PipelineOptions {
	return PipelineOptions{
		LookbackDays:           90,
		HorizonDays:            5,
		NumBuckets:             10,
		RebalanceFrequencyDays: 21,
		LongBucket:             1,
		ShortBucket:            10,
		RiskFreeRate:           0.0,
		MinRegressionSample:    5,
	}
}

func (o PipelineOptions) Validate() error {
	if o.LookbackDays < 1 {
		return fmt.Errorf("lookback days must be >= 1, got %d", o.LookbackDays)
	}
	if o.HorizonDays < 1 {
		return fmt.Errorf("horizon days must be >= 1, got %d", o.HorizonDays)
	}
	if o.NumBuckets < 2 {
		return fmt.Errorf("num buckets must be >= 2, got %d", o.NumBuckets)
	}
	if o.RebalanceFrequencyDays < 1 {
		return fmt.Errorf("rebalance frequency must be >= 1 trading day, got %d", o.RebalanceFrequencyDays)
	}
	if o.LongBucket < 1 || o.LongBucket > o.NumBuckets {
		return fmt.Errorf("long bucket %d outside 1..%d", o.LongBucket, o.NumBuckets)
	}
	if o.ShortBucket < 1 || o.ShortBucket > o.NumBuckets {
		return fmt.Errorf("short bucket %d outside 1..%d", o.ShortBucket, o.NumBuckets)
	}
	if o.LongBucket == o.ShortBucket {
		return fmt.Errorf("long and short bucket are both %d", o.LongBucket)
	}
	if o.MinRegressionSample < 2 {
		return fmt.Errorf("min regression sample must be >= 2, got %d", o.MinRegressionSample)
	}
	if o.NeweyWestLags < 0 {
		return fmt.Errorf("newey-west lags must be >= 0, got %d", o.NeweyWestLags)
	}
	if o.CostPerUnitTurnover < 0 {
		return fmt.Errorf("cost per unit turnover must be >= 0, got %f", o.CostPerUnitTurnover)
	}
	return nil
}
