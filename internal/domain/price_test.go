package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newDate(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func pricePoint(symbol string, date time.Time, price int64) PricePoint {
	return PricePoint{
		Symbol:        symbol,
		Date:          date,
		AdjustedClose: decimal.NewFromInt(price),
		Volume:        1000,
	}
}

func TestNewMarketDataset(t *testing.T) {
	t.Run("builds sorted calendar from union of dates", func(t *testing.T) {
		ds, err := NewMarketDataset([]PricePoint{
			pricePoint("AAPL", newDate(2020, 1, 2), 100),
			pricePoint("AAPL", newDate(2020, 1, 3), 101),
			pricePoint("MSFT", newDate(2020, 1, 1), 200),
			pricePoint("MSFT", newDate(2020, 1, 3), 202),
		})
		require.NoError(t, err)

		require.Equal(t, []time.Time{
			newDate(2020, 1, 1),
			newDate(2020, 1, 2),
			newDate(2020, 1, 3),
		}, ds.Calendar)
		require.Equal(t, []string{"AAPL", "MSFT"}, ds.Symbols())
	})

	t.Run("absent instrument is not investable, not zero", func(t *testing.T) {
		ds, err := NewMarketDataset([]PricePoint{
			pricePoint("AAPL", newDate(2020, 1, 2), 100),
			pricePoint("MSFT", newDate(2020, 1, 1), 200),
		})
		require.NoError(t, err)

		_, ok := ds.PriceAt("AAPL", newDate(2020, 1, 1))
		require.False(t, ok)

		p, ok := ds.PriceAt("AAPL", newDate(2020, 1, 2))
		require.True(t, ok)
		require.True(t, decimal.NewFromInt(100).Equal(p))
	})

	t.Run("duplicate (symbol, date) is fatal", func(t *testing.T) {
		_, err := NewMarketDataset([]PricePoint{
			pricePoint("AAPL", newDate(2020, 1, 2), 100),
			pricePoint("AAPL", newDate(2020, 1, 2), 101),
		})
		var malformed MalformedDatasetError
		require.True(t, errors.As(err, &malformed))
		require.Equal(t, "AAPL", malformed.Symbol)
	})

	t.Run("non-monotonic dates are fatal", func(t *testing.T) {
		_, err := NewMarketDataset([]PricePoint{
			pricePoint("AAPL", newDate(2020, 1, 3), 100),
			pricePoint("AAPL", newDate(2020, 1, 2), 101),
		})
		var malformed MalformedDatasetError
		require.True(t, errors.As(err, &malformed))
	})

	t.Run("non-positive price is fatal", func(t *testing.T) {
		_, err := NewMarketDataset([]PricePoint{
			pricePoint("AAPL", newDate(2020, 1, 2), 0),
		})
		var malformed MalformedDatasetError
		require.True(t, errors.As(err, &malformed))
	})

	t.Run("empty dataset is fatal", func(t *testing.T) {
		_, err := NewMarketDataset(nil)
		var malformed MalformedDatasetError
		require.True(t, errors.As(err, &malformed))
	})
}

func TestPricesBetween(t *testing.T) {
	ds, err := NewMarketDataset([]PricePoint{
		pricePoint("AAPL", newDate(2020, 1, 1), 100),
		pricePoint("AAPL", newDate(2020, 1, 2), 101),
		pricePoint("AAPL", newDate(2020, 1, 3), 102),
		pricePoint("AAPL", newDate(2020, 1, 4), 103),
	})
	require.NoError(t, err)

	between := ds.PricesBetween("AAPL", newDate(2020, 1, 2), newDate(2020, 1, 3))
	require.Len(t, between, 2)
	require.Equal(t, newDate(2020, 1, 2), between[0].Date)
	require.Equal(t, newDate(2020, 1, 3), between[1].Date)
}

func TestLastPriceOnOrBefore(t *testing.T) {
	ds, err := NewMarketDataset([]PricePoint{
		pricePoint("AAPL", newDate(2020, 1, 1), 100),
		pricePoint("AAPL", newDate(2020, 1, 3), 102),
	})
	require.NoError(t, err)

	p, ok := ds.LastPriceOnOrBefore("AAPL", newDate(2020, 1, 2))
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(100).Equal(p))

	p, ok = ds.LastPriceOnOrBefore("AAPL", newDate(2020, 1, 3))
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(102).Equal(p))

	_, ok = ds.LastPriceOnOrBefore("AAPL", newDate(2019, 12, 31))
	require.False(t, ok)
}

func TestBenchmarkSeriesAlign(t *testing.T) {
	t.Run("orders returns onto the calendar", func(t *testing.T) {
		series := BenchmarkSeries{
			newDate(2020, 1, 2): 0.01,
			newDate(2020, 1, 1): -0.02,
		}
		aligned, err := series.Align([]time.Time{newDate(2020, 1, 1), newDate(2020, 1, 2)})
		require.NoError(t, err)
		require.Equal(t, []float64{-0.02, 0.01}, aligned)
	})

	t.Run("missing calendar date is structural", func(t *testing.T) {
		series := BenchmarkSeries{newDate(2020, 1, 1): 0.01}
		_, err := series.Align([]time.Time{newDate(2020, 1, 1), newDate(2020, 1, 2)})
		var malformed MalformedDatasetError
		require.True(t, errors.As(err, &malformed))
		require.Equal(t, newDate(2020, 1, 2), malformed.Date)
	})
}
