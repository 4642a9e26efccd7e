package internal

import (
	"fmt"
	"io"
	"time"

	"factorpanel/internal/domain"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// priceRow is the tabular shape handed over by the data-acquisition
// collaborator: one row per (symbol, date).
type priceRow struct {
	Symbol        string  `csv:"symbol"`
	Date          string  `csv:"date"`
	AdjustedClose string  `csv:"adjusted_close"`
	Volume        float64 `csv:"volume"`
}

type benchmarkRow struct {
	Date   string  `csv:"date"`
	Return float64 `csv:"return"`
}

// LoadPrices reads the raw price table and validates it into a
// MarketDataset. Structural violations fail here, before any
// computation runs.
func LoadPrices(r io.Reader) (*domain.MarketDataset, error) {
	rows := []priceRow{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse price csv: %w", err)
	}

	points := make([]domain.PricePoint, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Date)
		if err != nil {
			return nil, domain.MalformedDatasetError{Symbol: row.Symbol, Reason: fmt.Sprintf("unparseable date %q", row.Date)}
		}
		price, err := decimal.NewFromString(row.AdjustedClose)
		if err != nil {
			return nil, domain.MalformedDatasetError{Symbol: row.Symbol, Date: date, Reason: fmt.Sprintf("unparseable adjusted close %q", row.AdjustedClose)}
		}
		points = append(points, domain.PricePoint{
			Symbol:        row.Symbol,
			Date:          date,
			AdjustedClose: price,
			Volume:        row.Volume,
		})
	}

	return domain.NewMarketDataset(points)
}

// LoadBenchmark reads a daily benchmark return series.
func LoadBenchmark(r io.Reader) (domain.BenchmarkSeries, error) {
	rows := []benchmarkRow{}
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse benchmark csv: %w", err)
	}

	series := domain.BenchmarkSeries{}
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Date)
		if err != nil {
			return nil, domain.MalformedDatasetError{Reason: fmt.Sprintf("unparseable benchmark date %q", row.Date)}
		}
		if _, ok := series[date]; ok {
			return nil, domain.MalformedDatasetError{Date: date, Reason: "duplicate benchmark date"}
		}
		series[date] = row.Return
	}

	return series, nil
}
