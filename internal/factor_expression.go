package internal

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"factorpanel/internal/domain"

	"github.com/maja42/goval"
)

// custom factor expressions let a strategy swap the built-in momentum
// ratio for an arbitrary formula over price history, e.g.
//
//	pricePercentChange(nDaysAgo(90), currentDate) / stdev(nDaysAgo(90), currentDate)
//
// every metric function refuses dates after currentDate, so an
// expression cannot smuggle in look-ahead.

func constructFunctionMap(
	ds *domain.MarketDataset,
	symbol string,
	h FactorMetricsHandler,
	currentDate time.Time,
) map[string]goval.ExpressionFunction {
	guard := func(dates ...time.Time) error {
		for _, d := range dates {
			if d.After(currentDate) {
				return fmt.Errorf("expression requested %s which is after the evaluation date %s", d.Format(time.DateOnly), currentDate.Format(time.DateOnly))
			}
		}
		return nil
	}

	return map[string]goval.ExpressionFunction{
		// helper functions
		"addDate": func(args ...interface{}) (interface{}, error) {
			// addDate(date, years, months, days)
			if len(args) < 4 {
				return 0, fmt.Errorf("addDate needs 4 args, got %d", len(args))
			}
			date, err := time.Parse(time.DateOnly, args[0].(string))
			if err != nil {
				return 0, err
			}

			var years, months, days = args[1].(int), args[2].(int), args[3].(int)
			date = date.AddDate(years, months, days)

			return date.Format(time.DateOnly), nil
		},

		"nDaysAgo": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("nDaysAgo needs 1 arg, got %d", len(args))
			}
			n := args[0].(int)
			d := currentDate.AddDate(0, 0, -n)

			return d.Format(time.DateOnly), nil
		},

		// metric functions

		// price(date strDate)
		"price": func(args ...interface{}) (interface{}, error) {
			if len(args) < 1 {
				return 0, fmt.Errorf("price needs 1 arg, got %d", len(args))
			}
			date, err := time.Parse(time.DateOnly, args[0].(string))
			if err != nil {
				return 0, err
			}
			if err := guard(date); err != nil {
				return 0, err
			}
			return h.Price(ds, symbol, date)
		},

		// pricePercentChange(start, end strDate)
		"pricePercentChange": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return 0, fmt.Errorf("pricePercentChange needs 2 args, got %d", len(args))
			}
			start, err := time.Parse(time.DateOnly, args[0].(string))
			if err != nil {
				return 0, err
			}
			end, err := time.Parse(time.DateOnly, args[1].(string))
			if err != nil {
				return 0, err
			}
			if err := guard(start, end); err != nil {
				return 0, err
			}
			return h.PricePercentChange(ds, symbol, start, end)
		},

		// stdev(start, end strDate)
		"stdev": func(args ...interface{}) (interface{}, error) {
			if len(args) < 2 {
				return 0, fmt.Errorf("stdev needs 2 args, got %d", len(args))
			}
			start, err := time.Parse(time.DateOnly, args[0].(string))
			if err != nil {
				return 0, err
			}
			end, err := time.Parse(time.DateOnly, args[1].(string))
			if err != nil {
				return 0, err
			}
			if err := guard(start, end); err != nil {
				return 0, err
			}
			return h.AnnualizedStdevOfDailyReturns(ds, symbol, start, end)
		},
	}
}

type expressionResult struct {
	Value float64
}

func evaluateFactorExpression(
	ds *domain.MarketDataset,
	expression string,
	symbol string,
	factorMetricsHandler FactorMetricsHandler,
	date time.Time, // expressions are evaluated on the given date
) (*expressionResult, error) {
	eval := goval.NewEvaluator()
	variables := map[string]interface{}{
		"currentDate": date.Format(time.DateOnly),
	}

	functions := constructFunctionMap(ds, symbol, factorMetricsHandler, date)
	result, err := eval.Evaluate(expression, variables, functions)
	if err != nil {
		// re-type missing data surfacing through the evaluator so the
		// engine can exclude the name instead of failing the run
		if isMissingData(err) {
			return nil, MissingDataError{err}
		}
		return nil, fmt.Errorf("failed to evaluate factor expression: %w", err)
	}

	r, ok := toFloat(result)
	if !ok {
		return nil, fmt.Errorf("failed to convert expression result %v to float", result)
	} else if math.IsNaN(r) {
		return nil, fmt.Errorf("calculated NaN as expression result")
	} else if math.IsInf(r, 0) {
		return nil, fmt.Errorf("calculated infinity as expression result")
	}

	return &expressionResult{Value: r}, nil
}

func isMissingData(err error) bool {
	var missing MissingDataError
	if errors.As(err, &missing) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no price for") ||
		strings.Contains(msg, "prices between") ||
		strings.Contains(msg, "dollar volume")
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}
