package app

import (
	"context"
	"testing"

	"factorpanel/internal"
	"factorpanel/internal/domain"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipelineDataset spreads six names across a range of daily drifts so
// every cross-section ranks cleanly.
func pipelineDataset(t *testing.T, numDays int) *domain.MarketDataset {
	t.Helper()
	drifts := map[string]float64{
		"AAA": 0.012, "BBB": 0.008, "CCC": 0.004,
		"DDD": -0.004, "EEE": -0.008, "FFF": -0.012,
	}
	points := []domain.PricePoint{}
	for d := 0; d < numDays; d++ {
		for symbol, drift := range drifts {
			price := 100.0
			for i := 0; i < d; i++ {
				price *= 1 + drift
			}
			points = append(points, domain.PricePoint{
				Symbol:        symbol,
				Date:          day(d),
				AdjustedClose: decimal.NewFromFloat(price),
				Volume:        5000,
			})
		}
	}
	ds, err := domain.NewMarketDataset(points)
	require.NoError(t, err)
	return ds
}

func flatBenchmark(ds *domain.MarketDataset) domain.BenchmarkSeries {
	benchmark := domain.BenchmarkSeries{}
	for _, date := range ds.Calendar {
		benchmark[date] = 0.0001
	}
	return benchmark
}

func pipelineOptions() internal.PipelineOptions {
	opts := internal.DefaultOptions()
	opts.LookbackDays = 2
	opts.HorizonDays = 1
	opts.NumBuckets = 3
	opts.RebalanceFrequencyDays = 2
	opts.LongBucket = 3
	opts.ShortBucket = 1
	return opts
}

func TestPipelineRun(t *testing.T) {
	h := NewPipelineHandler(zap.NewNop().Sugar())

	t.Run("end to end over a trending universe", func(t *testing.T) {
		ds := pipelineDataset(t, 30)
		resp, err := h.Run(context.Background(), RunPipelineInput{
			Dataset:   ds,
			Benchmark: flatBenchmark(ds),
			Options:   pipelineOptions(),
		})
		require.NoError(t, err)

		require.Len(t, resp.ReturnSeries.Daily, 30)
		require.NotEmpty(t, resp.ReturnSeries.Rebalances)

		// uptrending names go long, downtrending short: the spread is positive
		require.NotNil(t, resp.Performance)
		require.Greater(t, resp.Performance.CumulativeReturn, 0.0)
		require.Equal(t, 30, resp.Performance.NumDays)

		require.NotNil(t, resp.FamaMacBeth)
		momentum, ok := resp.FamaMacBeth.Coefficient("momentum")
		require.True(t, ok)
		require.Greater(t, momentum.Mean, 0.0)
		require.GreaterOrEqual(t, resp.FamaMacBeth.IncludedDates, 2)

		require.NotNil(t, resp.Profile)
		require.Len(t, resp.Profile.Spans, 5)
	})

	t.Run("a thin panel drops the significance test, not the run", func(t *testing.T) {
		ds := pipelineDataset(t, 4)
		resp, err := h.Run(context.Background(), RunPipelineInput{
			Dataset:   ds,
			Benchmark: flatBenchmark(ds),
			Options:   pipelineOptions(),
		})
		require.NoError(t, err)

		require.Nil(t, resp.FamaMacBeth)
		require.NotNil(t, resp.Performance)
		require.Len(t, resp.ReturnSeries.Daily, 4)
	})

	t.Run("identical inputs produce identical results", func(t *testing.T) {
		run := func() *RunPipelineResponse {
			ds := pipelineDataset(t, 25)
			resp, err := h.Run(context.Background(), RunPipelineInput{
				Dataset:   ds,
				Benchmark: flatBenchmark(ds),
				Options:   pipelineOptions(),
			})
			require.NoError(t, err)
			return resp
		}

		a, b := run(), run()
		// RunID and Profile are per-run; everything else must match
		require.Equal(t, "", cmp.Diff(a.ReturnSeries.Daily, b.ReturnSeries.Daily))
		require.Equal(t, "", cmp.Diff(a.ReturnSeries.Rebalances, b.ReturnSeries.Rebalances))
		require.Equal(t, "", cmp.Diff(a.Performance, b.Performance, cmpopts.EquateNaNs()))
		require.Equal(t, "", cmp.Diff(a.FamaMacBeth, b.FamaMacBeth, cmpopts.EquateNaNs()))
	})

	t.Run("benchmark gaps fail the run loudly", func(t *testing.T) {
		ds := pipelineDataset(t, 10)
		benchmark := flatBenchmark(ds)
		delete(benchmark, ds.Calendar[5])

		_, err := h.Run(context.Background(), RunPipelineInput{
			Dataset:   ds,
			Benchmark: benchmark,
			Options:   pipelineOptions(),
		})
		require.ErrorContains(t, err, "benchmark")
	})
}
