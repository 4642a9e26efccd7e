package calculator

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"factorpanel/internal/domain"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const defaultMinSampleSize = 5

// InsufficientDatesError means too few cross-sections survived the
// sample-size filter. A single cross-section cannot support a
// time-series standard error.
type InsufficientDatesError struct {
	IncludedDates int
}

func (e InsufficientDatesError) Error() string {
	return fmt.Sprintf("fama-macbeth needs at least 2 usable dates, got %d", e.IncludedDates)
}

// RegressionResult is one date's cross-sectional OLS fit.
type RegressionResult struct {
	Date         time.Time
	Coefficients []float64
	SampleSize   int
	RSquared     float64
}

type CoefficientSummary struct {
	Name          string
	Mean          float64
	StandardError float64
	TStat         float64
	PValue        float64
}

// FamaMacBethSummary aggregates the per-date coefficient series. The
// cross-time averaging is what makes the test robust to cross-sectional
// correlation of residuals within a date.
type FamaMacBethSummary struct {
	Coefficients  []CoefficientSummary
	IncludedDates int
	SkippedDates  int
	PerDate       []RegressionResult
}

// Coefficient looks a summary up by regressor name.
func (s FamaMacBethSummary) Coefficient(name string) (CoefficientSummary, bool) {
	for _, c := range s.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return CoefficientSummary{}, false
}

func (c CoefficientSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"name":          c.Name,
		"mean":          finiteOrNil(c.Mean),
		"standardError": finiteOrNil(c.StandardError),
		"tStat":         finiteOrNil(c.TStat),
		"pValue":        finiteOrNil(c.PValue),
	})
}

type EstimateInput struct {
	Panel    *domain.Panel
	Controls []string
	// dates with fewer usable names are excluded entirely (default 5)
	MinSampleSize int
	// Bartlett lag for the coefficient standard errors; 0 reduces to
	// the classic stdev/sqrt(T) estimator
	NeweyWestLags int
}

// Estimate runs one cross-sectional regression of forward return on
// momentum (+ controls) per date, then averages the coefficient series
// over time.
func Estimate(in EstimateInput) (*FamaMacBethSummary, error) {
	minSample := in.MinSampleSize
	if minSample == 0 {
		minSample = defaultMinSampleSize
	}

	names := append([]string{"intercept", "momentum"}, in.Controls...)
	numCoefficients := len(names)

	perDate := []RegressionResult{}
	skipped := 0
	for _, date := range in.Panel.Dates {
		cs := in.Panel.CrossSections[date]
		observations := usableObservations(cs, in.Controls)
		if len(observations) < minSample || len(observations) <= numCoefficients {
			skipped++
			continue
		}

		result, ok := regressCrossSection(date, observations, in.Controls)
		if !ok {
			// singular design matrix, e.g. all names share one
			// momentum value - no information in this date
			skipped++
			continue
		}
		perDate = append(perDate, result)
	}

	if len(perDate) < 2 {
		return nil, InsufficientDatesError{IncludedDates: len(perDate)}
	}

	summary := &FamaMacBethSummary{
		IncludedDates: len(perDate),
		SkippedDates:  skipped,
		PerDate:       perDate,
	}
	for j, name := range names {
		series := make([]float64, len(perDate))
		for i, r := range perDate {
			series[i] = r.Coefficients[j]
		}
		coefficient, err := summarizeCoefficient(name, series, in.NeweyWestLags)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate %s coefficients: %w", name, err)
		}
		summary.Coefficients = append(summary.Coefficients, coefficient)
	}

	return summary, nil
}

func usableObservations(cs *domain.CrossSection, controls []string) []domain.SignalObservation {
	out := []domain.SignalObservation{}
	for _, obs := range cs.Observations {
		usable := true
		for _, control := range controls {
			if _, ok := obs.Controls[control]; !ok {
				usable = false
				break
			}
		}
		if usable {
			out = append(out, obs)
		}
	}
	return out
}

// regressCrossSection fits forward_return ~ 1 + momentum + controls by
// OLS over one date's names.
func regressCrossSection(date time.Time, observations []domain.SignalObservation, controls []string) (RegressionResult, bool) {
	n := len(observations)
	k := 2 + len(controls)

	x := mat.NewDense(n, k, nil)
	y := mat.NewVecDense(n, nil)
	for i, obs := range observations {
		x.Set(i, 0, 1)
		x.Set(i, 1, obs.MomentumValue)
		for j, control := range controls {
			x.Set(i, 2+j, obs.Controls[control])
		}
		y.SetVec(i, obs.ForwardReturn)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return RegressionResult{}, false
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)
	var beta mat.VecDense
	beta.MulVec(&xtxInv, &xty)

	coefficients := make([]float64, k)
	for j := 0; j < k; j++ {
		coefficients[j] = beta.AtVec(j)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	meanY := mat.Sum(y) / float64(n)
	sse, sst := 0.0, 0.0
	for i := 0; i < n; i++ {
		residual := y.AtVec(i) - fitted.AtVec(i)
		sse += residual * residual
		dev := y.AtVec(i) - meanY
		sst += dev * dev
	}
	rSquared := 0.0
	if sst > 0 {
		rSquared = 1 - sse/sst
	}

	return RegressionResult{
		Date:         date,
		Coefficients: coefficients,
		SampleSize:   n,
		RSquared:     rSquared,
	}, true
}

func summarizeCoefficient(name string, series []float64, lags int) (CoefficientSummary, error) {
	mean, err := stats.Mean(series)
	if err != nil {
		return CoefficientSummary{}, err
	}

	bigT := float64(len(series))
	var standardError float64
	if lags == 0 {
		stdev, err := stats.StandardDeviationSample(series)
		if err != nil {
			return CoefficientSummary{}, err
		}
		standardError = stdev / math.Sqrt(bigT)
	} else {
		standardError = neweyWestStandardError(series, mean, lags)
	}

	tStat := math.NaN()
	pValue := math.NaN()
	if standardError > 0 {
		tStat = mean / standardError
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: bigT - 1}
		pValue = 2 * dist.CDF(-math.Abs(tStat))
	}

	return CoefficientSummary{
		Name:          name,
		Mean:          mean,
		StandardError: standardError,
		TStat:         tStat,
		PValue:        pValue,
	}, nil
}

// neweyWestStandardError applies Bartlett weights to the coefficient
// series' autocovariances before scaling down by T.
func neweyWestStandardError(series []float64, mean float64, lags int) float64 {
	bigT := float64(len(series))

	variance := 0.0
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}
	variance /= bigT

	for l := 1; l <= lags && l < len(series); l++ {
		gamma := 0.0
		for t := l; t < len(series); t++ {
			gamma += (series[t] - mean) * (series[t-l] - mean)
		}
		gamma /= bigT
		weight := 1 - float64(l)/float64(lags+1)
		variance += 2 * weight * gamma
	}

	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance / bigT)
}
