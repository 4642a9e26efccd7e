package calculator

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"factorpanel/internal/domain"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252

// PerformanceReport holds the named risk/return statistics for one
// backtest run. Ratios with a zero denominator fail closed to NaN
// rather than erroring - an undefined Sharpe is still a result.
type PerformanceReport struct {
	CumulativeReturn     float64
	AnnualizedReturn     float64
	AnnualizedVolatility float64
	SharpeRatio          float64
	SortinoRatio         float64
	CalmarRatio          float64
	MaxDrawdown          float64
	WinRate              float64
	Beta                 float64
	AnnualizedAlpha      float64
	ActiveReturn         float64
	TotalTurnover        float64
	NumDays              int
	NumRebalancePeriods  int
}

// MarshalJSON renders NaN sentinels as null - encoding/json rejects
// them otherwise.
func (r PerformanceReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"cumulativeReturn":     finiteOrNil(r.CumulativeReturn),
		"annualizedReturn":     finiteOrNil(r.AnnualizedReturn),
		"annualizedVolatility": finiteOrNil(r.AnnualizedVolatility),
		"sharpeRatio":          finiteOrNil(r.SharpeRatio),
		"sortinoRatio":         finiteOrNil(r.SortinoRatio),
		"calmarRatio":          finiteOrNil(r.CalmarRatio),
		"maxDrawdown":          finiteOrNil(r.MaxDrawdown),
		"winRate":              finiteOrNil(r.WinRate),
		"beta":                 finiteOrNil(r.Beta),
		"annualizedAlpha":      finiteOrNil(r.AnnualizedAlpha),
		"activeReturn":         finiteOrNil(r.ActiveReturn),
		"totalTurnover":        finiteOrNil(r.TotalTurnover),
		"numDays":              r.NumDays,
		"numRebalancePeriods":  r.NumRebalancePeriods,
	})
}

func finiteOrNil(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

type SummarizeInput struct {
	Series *domain.PortfolioReturnSeries
	// daily benchmark returns aligned to the series' calendar
	BenchmarkReturns []float64
	RiskFreeRate     float64
	// post-hoc haircut: subtracted as cost * turnover from each
	// rebalance day's return before any statistic is computed
	CostPerUnitTurnover float64
}

// Summarize computes the performance report for a portfolio return
// series relative to its benchmark.
func Summarize(in SummarizeInput) (*PerformanceReport, error) {
	if in.Series == nil || len(in.Series.Daily) == 0 {
		return nil, fmt.Errorf("cannot summarize an empty return series")
	}
	if len(in.BenchmarkReturns) != len(in.Series.Daily) {
		return nil, fmt.Errorf("benchmark has %d returns but series has %d days", len(in.BenchmarkReturns), len(in.Series.Daily))
	}

	netReturns, totalTurnover := netOfCosts(in.Series, in.CostPerUnitTurnover)
	numDays := len(netReturns)

	cumulative := cumulativeCurve(netReturns)
	cumulativeReturn := cumulative[len(cumulative)-1] - 1
	annualizedReturn := annualize(cumulative[len(cumulative)-1], numDays)

	annualizedVolatility := math.NaN()
	if stdev, err := stats.StandardDeviationSample(netReturns); err == nil {
		annualizedVolatility = stdev * math.Sqrt(tradingDaysPerYear)
	}

	sharpe := math.NaN()
	if annualizedVolatility > 0 {
		sharpe = (annualizedReturn - in.RiskFreeRate) / annualizedVolatility
	}

	sortino := math.NaN()
	if downside := downsideDeviation(netReturns); downside > 0 {
		sortino = (annualizedReturn - in.RiskFreeRate) / downside
	}

	worstDrawdown := maxDrawdown(cumulative)
	calmar := math.NaN()
	if worstDrawdown < 0 {
		calmar = annualizedReturn / math.Abs(worstDrawdown)
	}

	winRate, numPeriods := winRateByRebalancePeriod(in.Series, netReturns)

	benchmarkCumulative := cumulativeCurve(in.BenchmarkReturns)
	benchmarkAnnualized := annualize(benchmarkCumulative[len(benchmarkCumulative)-1], numDays)
	dailyAlpha, beta := stat.LinearRegression(in.BenchmarkReturns, netReturns, nil, false)

	return &PerformanceReport{
		CumulativeReturn:     cumulativeReturn,
		AnnualizedReturn:     annualizedReturn,
		AnnualizedVolatility: annualizedVolatility,
		SharpeRatio:          sharpe,
		SortinoRatio:         sortino,
		CalmarRatio:          calmar,
		MaxDrawdown:          worstDrawdown,
		WinRate:              winRate,
		Beta:                 beta,
		AnnualizedAlpha:      dailyAlpha * tradingDaysPerYear,
		ActiveReturn:         annualizedReturn - benchmarkAnnualized,
		TotalTurnover:        totalTurnover,
		NumDays:              numDays,
		NumRebalancePeriods:  numPeriods,
	}, nil
}

// netOfCosts applies the turnover haircut to rebalance-day returns.
func netOfCosts(series *domain.PortfolioReturnSeries, costPerUnitTurnover float64) ([]float64, float64) {
	turnoverByDate := series.TurnoverByDate()
	totalTurnover := 0.0
	for _, turnover := range turnoverByDate {
		totalTurnover += turnover
	}

	out := make([]float64, len(series.Daily))
	for i, day := range series.Daily {
		out[i] = day.Return
		if turnover, ok := turnoverByDate[day.Date]; ok {
			out[i] -= costPerUnitTurnover * turnover
		}
	}
	return out, totalTurnover
}

// cumulativeCurve compounds daily returns into a growth-of-1 curve.
func cumulativeCurve(returns []float64) []float64 {
	out := make([]float64, len(returns))
	value := 1.0
	for i, r := range returns {
		value *= 1 + r
		out[i] = value
	}
	return out
}

func annualize(terminalValue float64, numDays int) float64 {
	if numDays == 0 || terminalValue <= 0 {
		return math.NaN()
	}
	return math.Pow(terminalValue, tradingDaysPerYear/float64(numDays)) - 1
}

// downsideDeviation is the annualized stdev over negative-return days only.
func downsideDeviation(returns []float64) float64 {
	negatives := []float64{}
	for _, r := range returns {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) < 2 {
		return math.NaN()
	}
	stdev, err := stats.StandardDeviationSample(negatives)
	if err != nil {
		return math.NaN()
	}
	return stdev * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown scans the cumulative curve once, tracking the running
// peak. The trough is wherever it falls - never assume series end.
func maxDrawdown(cumulative []float64) float64 {
	peak := 1.0
	worst := 0.0
	for _, value := range cumulative {
		if value > peak {
			peak = value
		}
		drawdown := value/peak - 1
		if drawdown < worst {
			worst = drawdown
		}
	}
	return worst
}

// winRateByRebalancePeriod compounds returns between consecutive
// rebalance events and reports the fraction of positive periods. With
// fewer than two events there are no complete periods, so the daily
// win rate stands in.
func winRateByRebalancePeriod(series *domain.PortfolioReturnSeries, netReturns []float64) (float64, int) {
	boundaries := map[int]bool{}
	rebalanceDates := map[time.Time]bool{}
	for _, e := range series.Rebalances {
		rebalanceDates[e.Date] = true
	}
	for i, day := range series.Daily {
		if rebalanceDates[day.Date] {
			boundaries[i] = true
		}
	}

	periods := []float64{}
	current := 1.0
	inPeriod := false
	for i, r := range netReturns {
		if inPeriod {
			current *= 1 + r
		}
		if boundaries[i] {
			if inPeriod {
				periods = append(periods, current-1)
			}
			current = 1.0
			inPeriod = true
		}
	}
	if inPeriod && current != 1.0 {
		// trailing partial period after the last rebalance
		periods = append(periods, current-1)
	}

	if len(periods) == 0 {
		return fractionPositive(netReturns), 0
	}
	return fractionPositive(periods), len(periods)
}

func fractionPositive(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	wins := 0
	for _, v := range values {
		if v > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(values))
}
