package app

import (
	"testing"
	"time"

	"factorpanel/internal"
	"factorpanel/internal/domain"
	"factorpanel/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func backtestOptions() internal.PipelineOptions {
	opts := internal.DefaultOptions()
	opts.LookbackDays = 1
	opts.HorizonDays = 1
	opts.NumBuckets = 3
	opts.RebalanceFrequencyDays = 3
	opts.LongBucket = 3
	opts.ShortBucket = 1
	return opts
}

func day(n int) time.Time {
	return util.NewDate(2021, 3, 1).AddDate(0, 0, n)
}

// trendingDataset has A compounding up 1%/day, B flat, C down 1%/day,
// over numDays consecutive dates.
func trendingDataset(t *testing.T, numDays int) *domain.MarketDataset {
	t.Helper()
	points := []domain.PricePoint{}
	for d := 0; d < numDays; d++ {
		for symbol, daily := range map[string]float64{"AAA": 0.01, "BBB": 0.0, "CCC": -0.01} {
			price := 100.0
			for i := 0; i < d; i++ {
				price *= 1 + daily
			}
			points = append(points, domain.PricePoint{
				Symbol:        symbol,
				Date:          day(d),
				AdjustedClose: decimal.NewFromFloat(price),
				Volume:        1000,
			})
		}
	}
	ds, err := domain.NewMarketDataset(points)
	require.NoError(t, err)
	return ds
}

func rankedAt(date time.Time, bucketBySymbol map[string]int, numBuckets int) *domain.RankedCrossSection {
	rcs := domain.NewRankedCrossSection(date, numBuckets)
	for _, symbol := range []string{"AAA", "BBB", "CCC"} {
		if b, ok := bucketBySymbol[symbol]; ok {
			rcs.Assign(symbol, b)
		}
	}
	return rcs
}

func TestBacktestRun(t *testing.T) {
	h := NewBacktestHandler(zap.NewNop().Sugar())

	t.Run("rebalance leaves the book dollar-neutral and turnover sums weight changes", func(t *testing.T) {
		ds := trendingDataset(t, 8)
		panel := domain.NewRankedPanel()
		panel.Add(rankedAt(day(0), map[string]int{"CCC": 1, "BBB": 2, "AAA": 3}, 3))
		// reversal at the second event
		panel.Add(rankedAt(day(3), map[string]int{"AAA": 1, "BBB": 2, "CCC": 3}, 3))

		series, err := h.Run(BacktestInput{Dataset: ds, RankedPanel: panel, Options: backtestOptions()})
		require.NoError(t, err)

		require.Len(t, series.Rebalances, 2)
		first, second := series.Rebalances[0], series.Rebalances[1]

		require.Equal(t, day(0), first.Date)
		require.InDelta(t, 1.0, first.TargetWeights["AAA"], 1e-9)
		require.InDelta(t, -1.0, first.TargetWeights["CCC"], 1e-9)
		require.NotContains(t, first.TargetWeights, "BBB")
		require.InDelta(t, 2.0, first.Turnover, 1e-9)

		// flipping both legs moves 2 units of weight per name
		require.Equal(t, day(3), second.Date)
		require.InDelta(t, -1.0, second.TargetWeights["AAA"], 1e-9)
		require.InDelta(t, 1.0, second.TargetWeights["CCC"], 1e-9)
		require.InDelta(t, 4.0, second.Turnover, 1e-9)

		for _, sample := range series.Daily {
			require.InDelta(t, 0.0, sample.NetExposure, 1e-9)
		}
	})

	t.Run("weights held between rebalances earn the daily spread", func(t *testing.T) {
		ds := trendingDataset(t, 5)
		panel := domain.NewRankedPanel()
		panel.Add(rankedAt(day(0), map[string]int{"CCC": 1, "BBB": 2, "AAA": 3}, 3))

		opts := backtestOptions()
		opts.RebalanceFrequencyDays = 10
		series, err := h.Run(BacktestInput{Dataset: ds, RankedPanel: panel, Options: opts})
		require.NoError(t, err)

		require.Len(t, series.Rebalances, 1)
		require.Len(t, series.Daily, 5)

		// day 0 is the rebalance close: no return yet
		require.InDelta(t, 0.0, series.Daily[0].Return, 1e-9)
		for _, sample := range series.Daily[1:] {
			require.InDelta(t, 0.02, sample.Return, 1e-9)
			require.InDelta(t, 2.0, sample.GrossExposure, 1e-9)
		}
	})

	t.Run("signal at t earns from t+1: day-0 prices never enter day-0 return", func(t *testing.T) {
		ds := trendingDataset(t, 3)
		panel := domain.NewRankedPanel()
		panel.Add(rankedAt(day(1), map[string]int{"CCC": 1, "BBB": 2, "AAA": 3}, 3))

		series, err := h.Run(BacktestInput{Dataset: ds, RankedPanel: panel, Options: backtestOptions()})
		require.NoError(t, err)

		// days 0 and 1 carry no position into the mark
		require.InDelta(t, 0.0, series.Daily[0].Return, 1e-9)
		require.InDelta(t, 0.0, series.Daily[1].Return, 1e-9)
		require.InDelta(t, 0.02, series.Daily[2].Return, 1e-9)
		require.Equal(t, day(1), series.Rebalances[0].Date)
	})

	t.Run("a price gap freezes the name for one day and resumes without rebalancing", func(t *testing.T) {
		points := []domain.PricePoint{}
		aaaPrices := map[int]float64{0: 100, 1: 110, 3: 121} // day 2 missing
		for d := 0; d < 4; d++ {
			if p, ok := aaaPrices[d]; ok {
				points = append(points, domain.PricePoint{
					Symbol: "AAA", Date: day(d), AdjustedClose: decimal.NewFromFloat(p), Volume: 1000,
				})
			}
			points = append(points, domain.PricePoint{
				Symbol: "BBB", Date: day(d), AdjustedClose: decimal.NewFromInt(100), Volume: 1000,
			})
		}
		ds, err := domain.NewMarketDataset(points)
		require.NoError(t, err)

		panel := domain.NewRankedPanel()
		rcs := domain.NewRankedCrossSection(day(0), 2)
		rcs.Assign("BBB", 1)
		rcs.Assign("AAA", 2)
		panel.Add(rcs)

		opts := backtestOptions()
		opts.NumBuckets = 2
		opts.LongBucket = 2
		opts.ShortBucket = 1
		opts.RebalanceFrequencyDays = 10

		series, err := h.Run(BacktestInput{Dataset: ds, RankedPanel: panel, Options: opts})
		require.NoError(t, err)
		require.Len(t, series.Rebalances, 1)
		require.Len(t, series.Daily, 4)

		require.InDelta(t, 0.10, series.Daily[1].Return, 1e-9)
		require.Empty(t, series.Daily[1].FrozenSymbols)

		// gap day: AAA contributes zero, weight stays on
		require.InDelta(t, 0.0, series.Daily[2].Return, 1e-9)
		require.Equal(t, []string{"AAA"}, series.Daily[2].FrozenSymbols)
		require.InDelta(t, 2.0, series.Daily[2].GrossExposure, 1e-9)

		// re-entry marks against the freeze price: 110 -> 121
		require.InDelta(t, 0.10, series.Daily[3].Return, 1e-9)
		require.Empty(t, series.Daily[3].FrozenSymbols)
	})

	t.Run("unrankable rebalance dates hold prior weights and retry daily", func(t *testing.T) {
		ds := trendingDataset(t, 7)
		panel := domain.NewRankedPanel()
		panel.Add(rankedAt(day(0), map[string]int{"CCC": 1, "BBB": 2, "AAA": 3}, 3))
		// nothing rankable on day 3; day 4 ranks again
		panel.Add(rankedAt(day(4), map[string]int{"CCC": 1, "BBB": 2, "AAA": 3}, 3))

		series, err := h.Run(BacktestInput{Dataset: ds, RankedPanel: panel, Options: backtestOptions()})
		require.NoError(t, err)

		require.Len(t, series.Rebalances, 2)
		require.Equal(t, day(0), series.Rebalances[0].Date)
		require.Equal(t, day(4), series.Rebalances[1].Date)
		// same book on both sides of the skipped date
		require.InDelta(t, 0.0, series.Rebalances[1].Turnover, 1e-9)
		for _, sample := range series.Daily[1:] {
			require.InDelta(t, 0.02, sample.Return, 1e-9)
		}
	})

	t.Run("one sample per calendar date regardless of rankable dates", func(t *testing.T) {
		ds := trendingDataset(t, 9)
		panel := domain.NewRankedPanel()
		panel.Add(rankedAt(day(2), map[string]int{"CCC": 1, "BBB": 2, "AAA": 3}, 3))

		series, err := h.Run(BacktestInput{Dataset: ds, RankedPanel: panel, Options: backtestOptions()})
		require.NoError(t, err)

		require.Len(t, series.Daily, 9)
		for i, sample := range series.Daily {
			require.Equal(t, day(i), sample.Date)
		}
	})

	t.Run("rejects invalid options", func(t *testing.T) {
		ds := trendingDataset(t, 3)
		opts := backtestOptions()
		opts.NumBuckets = 0
		_, err := h.Run(BacktestInput{Dataset: ds, RankedPanel: domain.NewRankedPanel(), Options: opts})
		require.Error(t, err)
	})
}
