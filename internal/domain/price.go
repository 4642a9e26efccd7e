package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one point-in-time observation for an instrument. Prices
// are adjusted for splits/dividends upstream.
type PricePoint struct {
	Symbol        string
	Date          time.Time
	AdjustedClose decimal.Decimal
	Volume        float64
}

// MalformedDatasetError indicates a structural violation in the input
// price table. It is always fatal - a broken calendar would corrupt
// every downstream statistic.
type MalformedDatasetError struct {
	Symbol string
	Date   time.Time
	Reason string
}

func (e MalformedDatasetError) Error() string {
	return fmt.Sprintf("malformed dataset: %s (symbol=%s date=%s)", e.Reason, e.Symbol, e.Date.Format(time.DateOnly))
}

// MarketDataset holds the full point-in-time price history for the
// universe, keyed by symbol, plus the trading calendar shared across
// instruments. An instrument missing a price on a calendar date is not
// investable that day - absence never becomes a zero return.
type MarketDataset struct {
	Calendar []time.Time

	pricesBySymbol map[string][]PricePoint
	priceIndex     map[string]map[time.Time]int
	calendarIndex  map[time.Time]int
}

// NewMarketDataset validates and indexes a flat price table. Dates must
// be strictly increasing per symbol with no duplicate (symbol, date)
// pairs; the calendar is the sorted union of all observed dates.
func NewMarketDataset(points []PricePoint) (*MarketDataset, error) {
	pricesBySymbol := map[string][]PricePoint{}
	for _, p := range points {
		pricesBySymbol[p.Symbol] = append(pricesBySymbol[p.Symbol], p)
	}

	priceIndex := map[string]map[time.Time]int{}
	calendarSet := map[time.Time]struct{}{}
	for symbol, series := range pricesBySymbol {
		priceIndex[symbol] = make(map[time.Time]int, len(series))
		for i, p := range series {
			if i > 0 && !series[i-1].Date.Before(p.Date) {
				reason := "dates are non-monotonic"
				if series[i-1].Date.Equal(p.Date) {
					reason = "duplicate (symbol, date) pair"
				}
				return nil, MalformedDatasetError{Symbol: symbol, Date: p.Date, Reason: reason}
			}
			if p.AdjustedClose.LessThanOrEqual(decimal.Zero) {
				return nil, MalformedDatasetError{Symbol: symbol, Date: p.Date, Reason: "non-positive adjusted close"}
			}
			priceIndex[symbol][p.Date] = i
			calendarSet[p.Date] = struct{}{}
		}
	}
	if len(calendarSet) == 0 {
		return nil, MalformedDatasetError{Reason: "dataset has no price points"}
	}

	calendar := make([]time.Time, 0, len(calendarSet))
	for t := range calendarSet {
		calendar = append(calendar, t)
	}
	sort.Slice(calendar, func(i, j int) bool {
		return calendar[i].Before(calendar[j])
	})
	calendarIndex := make(map[time.Time]int, len(calendar))
	for i, t := range calendar {
		calendarIndex[t] = i
	}

	return &MarketDataset{
		Calendar:       calendar,
		pricesBySymbol: pricesBySymbol,
		priceIndex:     priceIndex,
		calendarIndex:  calendarIndex,
	}, nil
}

func (d MarketDataset) Symbols() []string {
	symbols := make([]string, 0, len(d.pricesBySymbol))
	for symbol := range d.pricesBySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// PriceAt returns the adjusted close for symbol on date. The second
// return is false when the instrument is absent that day.
func (d MarketDataset) PriceAt(symbol string, date time.Time) (decimal.Decimal, bool) {
	idx, ok := d.priceIndex[symbol]
	if !ok {
		return decimal.Zero, false
	}
	i, ok := idx[date]
	if !ok {
		return decimal.Zero, false
	}
	return d.pricesBySymbol[symbol][i].AdjustedClose, true
}

func (d MarketDataset) VolumeAt(symbol string, date time.Time) (float64, bool) {
	idx, ok := d.priceIndex[symbol]
	if !ok {
		return 0, false
	}
	i, ok := idx[date]
	if !ok {
		return 0, false
	}
	return d.pricesBySymbol[symbol][i].Volume, true
}

// LastPriceOnOrBefore returns the symbol's most recent adjusted close at
// or before date - the base a frozen name marks against when it
// reappears after a gap.
func (d MarketDataset) LastPriceOnOrBefore(symbol string, date time.Time) (decimal.Decimal, bool) {
	series := d.pricesBySymbol[symbol]
	i := sort.Search(len(series), func(j int) bool {
		return series[j].Date.After(date)
	})
	if i == 0 {
		return decimal.Zero, false
	}
	return series[i-1].AdjustedClose, true
}

// CalendarIndex returns the position of date on the trading calendar.
func (d MarketDataset) CalendarIndex(date time.Time) (int, bool) {
	i, ok := d.calendarIndex[date]
	return i, ok
}

// PricesBetween returns the symbol's observations with start <= date <= end,
// in calendar order.
func (d MarketDataset) PricesBetween(symbol string, start, end time.Time) []PricePoint {
	out := []PricePoint{}
	for _, p := range d.pricesBySymbol[symbol] {
		if p.Date.Before(start) {
			continue
		}
		if p.Date.After(end) {
			break
		}
		out = append(out, p)
	}
	return out
}

// BenchmarkSeries is a daily return series from an external collaborator,
// keyed by trading date.
type BenchmarkSeries map[time.Time]float64

// Align orders the series onto the given calendar. A missing date is a
// structural violation, same as a gap in the price table.
func (b BenchmarkSeries) Align(calendar []time.Time) ([]float64, error) {
	out := make([]float64, 0, len(calendar))
	for _, t := range calendar {
		r, ok := b[t]
		if !ok {
			return nil, MalformedDatasetError{Date: t, Reason: "benchmark series missing calendar date"}
		}
		out = append(out, r)
	}
	return out, nil
}
