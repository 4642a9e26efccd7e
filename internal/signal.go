package internal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"factorpanel/internal/domain"
)

// control names attached to each SignalObservation
const (
	ControlVolatility = "volatility"
	ControlLiquidity  = "liquidity"
)

// InsufficientHistoryError means an instrument lacks lookback depth on a
// date. The instrument is absent from that date's cross-section - it is
// never zero-filled.
type InsufficientHistoryError struct {
	Symbol   string
	Date     time.Time
	Lookback int
}

func (e InsufficientHistoryError) Error() string {
	return fmt.Sprintf("%s has fewer than %d trading days of history at %s", e.Symbol, e.Lookback, e.Date.Format(time.DateOnly))
}

// FactorEngine turns a MarketDataset into a panel of signal
// observations. It is a pure function of the dataset and the window
// parameters.
type FactorEngine struct {
	Metrics FactorMetricsHandler
}

func NewFactorEngine() FactorEngine {
	return FactorEngine{Metrics: NewFactorMetricsHandler()}
}

type ComputeSignalInput struct {
	Dataset *domain.MarketDataset
	Options PipelineOptions
}

type ComputeSignalResponse struct {
	Panel *domain.Panel

	// exclusion tallies - recoverable by design, surfaced for logging
	ExcludedInsufficientHistory int
	ExcludedIncompleteForward   int
}

// ComputeSignal computes momentum and forward returns for every
// (symbol, date) with enough history. Window offsets are in trading days
// on the shared calendar. Observations whose forward window runs past
// the end of the calendar are excluded, never imputed.
func (e FactorEngine) ComputeSignal(in ComputeSignalInput) (*ComputeSignalResponse, error) {
	if err := in.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	calendar := in.Dataset.Calendar
	symbols := in.Dataset.Symbols()
	out := &ComputeSignalResponse{Panel: domain.NewPanel()}

	for t, date := range calendar {
		for _, symbol := range symbols {
			if _, investable := in.Dataset.PriceAt(symbol, date); !investable {
				continue
			}

			momentum, err := e.momentumValue(in.Dataset, symbol, t, in.Options)
			var insufficient InsufficientHistoryError
			var missing MissingDataError
			if errors.As(err, &insufficient) || errors.As(err, &missing) {
				out.ExcludedInsufficientHistory++
				continue
			} else if err != nil {
				return nil, fmt.Errorf("failed to compute signal for %s on %s: %w", symbol, date.Format(time.DateOnly), err)
			}

			forward, ok, err := e.forwardReturn(in.Dataset, symbol, t, in.Options.HorizonDays)
			if err != nil {
				return nil, err
			}
			if !ok {
				out.ExcludedIncompleteForward++
				continue
			}

			out.Panel.Add(domain.SignalObservation{
				Symbol:        symbol,
				Date:          date,
				MomentumValue: momentum,
				ForwardReturn: forward,
				Controls:      e.controls(in.Dataset, symbol, t, in.Options.LookbackDays),
			})
		}
	}

	return out, nil
}

// momentumValue is price(t) / price(t - lookback) - 1, reading only
// prices at or before t. With a custom factor expression set, the
// expression evaluates in place of the built-in ratio under the same
// look-ahead guard.
func (e FactorEngine) momentumValue(ds *domain.MarketDataset, symbol string, t int, opts PipelineOptions) (float64, error) {
	date := ds.Calendar[t]

	if opts.FactorExpression != "" {
		result, err := evaluateFactorExpression(ds, opts.FactorExpression, symbol, e.Metrics, date)
		if err != nil {
			return 0, err
		}
		return result.Value, nil
	}

	if t < opts.LookbackDays {
		return 0, InsufficientHistoryError{Symbol: symbol, Date: date, Lookback: opts.LookbackDays}
	}
	startDate := ds.Calendar[t-opts.LookbackDays]
	startPrice, ok := ds.PriceAt(symbol, startDate)
	if !ok {
		return 0, InsufficientHistoryError{Symbol: symbol, Date: date, Lookback: opts.LookbackDays}
	}
	endPrice, _ := ds.PriceAt(symbol, date)

	momentum := endPrice.Div(startPrice).InexactFloat64() - 1
	if math.IsNaN(momentum) || math.IsInf(momentum, 0) {
		return 0, fmt.Errorf("computed invalid momentum for %s on %s", symbol, date.Format(time.DateOnly))
	}
	return momentum, nil
}

// forwardReturn is price(t + horizon) / price(t) - 1, realized strictly
// after t. ok=false marks an incomplete window.
func (e FactorEngine) forwardReturn(ds *domain.MarketDataset, symbol string, t, horizon int) (float64, bool, error) {
	if t+horizon >= len(ds.Calendar) {
		return 0, false, nil
	}
	endDate := ds.Calendar[t+horizon]
	endPrice, ok := ds.PriceAt(symbol, endDate)
	if !ok {
		return 0, false, nil
	}
	startPrice, ok := ds.PriceAt(symbol, ds.Calendar[t])
	if !ok {
		return 0, false, nil
	}

	forward := endPrice.Div(startPrice).InexactFloat64() - 1
	if math.IsNaN(forward) || math.IsInf(forward, 0) {
		return 0, false, fmt.Errorf("computed invalid forward return for %s", symbol)
	}
	return forward, true, nil
}

// controls are best-effort: a control that cannot be computed for a name
// is omitted, which excludes the name from regressions requesting it.
func (e FactorEngine) controls(ds *domain.MarketDataset, symbol string, t, lookback int) map[string]float64 {
	if t < lookback {
		return nil
	}
	start := ds.Calendar[t-lookback]
	end := ds.Calendar[t]

	controls := map[string]float64{}
	if vol, err := e.Metrics.AnnualizedStdevOfDailyReturns(ds, symbol, start, end); err == nil {
		controls[ControlVolatility] = vol
	}
	if liq, err := e.Metrics.LogAverageDollarVolume(ds, symbol, start, end); err == nil {
		controls[ControlLiquidity] = liq
	}
	return controls
}
