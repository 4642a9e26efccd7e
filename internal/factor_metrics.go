package internal

import (
	"fmt"
	"math"
	"time"

	"factorpanel/internal/domain"

	"github.com/montanaflynn/stats"
)

// MissingDataError marks a metric that could not be computed because the
// instrument has no observation on a required date. Callers treat it as
// "name not investable", never as a zero.
type MissingDataError struct {
	Err error
}

func (e MissingDataError) Error() string {
	return e.Err.Error()
}

func (e MissingDataError) Unwrap() error {
	return e.Err
}

// FactorMetricsHandler computes point-in-time metrics over a
// MarketDataset. Every method only reads prices at or before the latest
// date it is handed.
type FactorMetricsHandler struct{}

func NewFactorMetricsHandler() FactorMetricsHandler {
	return FactorMetricsHandler{}
}

func (h FactorMetricsHandler) Price(ds *domain.MarketDataset, symbol string, date time.Time) (float64, error) {
	p, ok := ds.PriceAt(symbol, date)
	if !ok {
		return 0, MissingDataError{fmt.Errorf("no price for %s on %s", symbol, date.Format(time.DateOnly))}
	}
	return p.InexactFloat64(), nil
}

func (h FactorMetricsHandler) PricePercentChange(ds *domain.MarketDataset, symbol string, start, end time.Time) (float64, error) {
	startPrice, err := h.Price(ds, symbol, start)
	if err != nil {
		return 0, err
	}
	endPrice, err := h.Price(ds, symbol, end)
	if err != nil {
		return 0, err
	}
	return percentChange(endPrice, startPrice), nil
}

func percentChange(end, start float64) float64 {
	return ((end - start) / start) * 100
}

// AnnualizedStdevOfDailyReturns computes the stdev of close-to-close
// returns between start and end, annualized by sqrt(252).
func (h FactorMetricsHandler) AnnualizedStdevOfDailyReturns(ds *domain.MarketDataset, symbol string, start, end time.Time) (float64, error) {
	priceModels := ds.PricesBetween(symbol, start, end)
	if len(priceModels) < 3 {
		return 0, MissingDataError{fmt.Errorf("%s has %d prices between %s and %s - need >= 3 for stdev", symbol, len(priceModels), start.Format(time.DateOnly), end.Format(time.DateOnly))}
	}
	intradayChanges := make([]float64, len(priceModels)-1)
	for i := 1; i < len(priceModels); i++ {
		intradayChanges[i-1] = percentChange(
			priceModels[i].AdjustedClose.InexactFloat64(),
			priceModels[i-1].AdjustedClose.InexactFloat64(),
		) / 100
	}

	stdev, err := stats.StandardDeviationSample(intradayChanges)
	if err != nil {
		return 0, err
	}

	return stdev * math.Sqrt(252), nil
}

// LogAverageDollarVolume is a liquidity proxy: log of mean daily
// price * volume over the window.
func (h FactorMetricsHandler) LogAverageDollarVolume(ds *domain.MarketDataset, symbol string, start, end time.Time) (float64, error) {
	priceModels := ds.PricesBetween(symbol, start, end)
	if len(priceModels) == 0 {
		return 0, MissingDataError{fmt.Errorf("%s has no prices between %s and %s", symbol, start.Format(time.DateOnly), end.Format(time.DateOnly))}
	}
	dollarVolumes := make([]float64, len(priceModels))
	for i, p := range priceModels {
		dollarVolumes[i] = p.AdjustedClose.InexactFloat64() * p.Volume
	}
	mean, err := stats.Mean(dollarVolumes)
	if err != nil {
		return 0, err
	}
	if mean <= 0 {
		return 0, MissingDataError{fmt.Errorf("%s has zero dollar volume between %s and %s", symbol, start.Format(time.DateOnly), end.Format(time.DateOnly))}
	}
	return math.Log(mean), nil
}
