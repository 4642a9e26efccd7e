package app

import (
	"fmt"
	"sort"
	"time"

	"factorpanel/internal"
	"factorpanel/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BacktestHandler struct {
	Log *zap.SugaredLogger
}

func NewBacktestHandler(log *zap.SugaredLogger) BacktestHandler {
	return BacktestHandler{Log: log}
}

type BacktestInput struct {
	Dataset     *domain.MarketDataset
	RankedPanel *domain.RankedPanel
	Options     internal.PipelineOptions
}

// Run walks the full trading calendar in order, marking the book to
// market every day and resetting weights on rebalance dates. The loop is
// inherently sequential - portfolio state carries forward - and always
// produces one sample per calendar date so that runs stay comparable
// across strategy variants.
//
// Each date is mark-to-market first, then rebalance at the close: new
// weights set from date t's ranking earn returns from t+1 onward.
func (h BacktestHandler) Run(in BacktestInput) (*domain.PortfolioReturnSeries, error) {
	if err := in.Options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if len(in.Dataset.Calendar) == 0 {
		return nil, fmt.Errorf("cannot backtest an empty calendar")
	}

	portfolio := domain.NewPortfolio()
	series := &domain.PortfolioReturnSeries{RunID: uuid.New()}

	calendar := in.Dataset.Calendar
	daysSinceRebalance := 0
	rebalancedOnce := false

	for t, date := range calendar {
		sample := domain.DailySample{Date: date}
		if t > 0 {
			sample.Return, sample.FrozenSymbols = h.markToMarket(in.Dataset, portfolio, calendar[t-1], date)
		}

		// a held name absent on a rebalance-eligible date is fine: the
		// ranking for that date never included it, so its weight just
		// gets replaced (or, on a skipped event, frozen another day)
		due := !rebalancedOnce || daysSinceRebalance >= in.Options.RebalanceFrequencyDays
		if due {
			ranked, ok := in.RankedPanel.Get(date)
			if ok {
				event := h.applyRebalance(portfolio, ranked, in.Options)
				series.Rebalances = append(series.Rebalances, event)
				daysSinceRebalance = 0
				rebalancedOnce = true
			} else if rebalancedOnce {
				// degenerate or missing ranking: hold prior weights,
				// skip the event, try again tomorrow
				h.Log.Debugw("holding prior weights through unrankable rebalance date",
					"date", date.Format(time.DateOnly))
			}
		}
		daysSinceRebalance++

		sample.GrossExposure = portfolio.GrossExposure()
		sample.NetExposure = portfolio.NetExposure()
		series.Daily = append(series.Daily, sample)
	}

	h.Log.Infow("backtest complete",
		"runId", series.RunID,
		"days", len(series.Daily),
		"rebalances", len(series.Rebalances),
	)

	return series, nil
}

// markToMarket computes the day's portfolio return as the weighted sum
// of instrument returns under the current weights. A held name with no
// price on either side of the step contributes zero and is flagged
// frozen - a conservative stand-in for full delisting handling.
func (h BacktestHandler) markToMarket(ds *domain.MarketDataset, portfolio *domain.Portfolio, prev, date time.Time) (float64, []string) {
	dayReturn := 0.0
	frozen := []string{}

	for symbol, weight := range portfolio.Weights {
		if weight == 0 {
			continue
		}
		curPrice, okCur := ds.PriceAt(symbol, date)
		if !okCur {
			frozen = append(frozen, symbol)
			continue
		}
		// a name coming back from a gap marks against the price it
		// froze at, so the gap's move is realized on re-entry
		prevPrice, okPrev := ds.LastPriceOnOrBefore(symbol, prev)
		if !okPrev {
			frozen = append(frozen, symbol)
			continue
		}
		dayReturn += weight * (curPrice.Div(prevPrice).InexactFloat64() - 1)
	}
	sort.Strings(frozen)

	return dayReturn, frozen
}

// applyRebalance sets +1/n on every long-bucket member and -1/m on every
// short-bucket member, zero elsewhere. Long and short notional each
// normalize to 1, so the book leaves every rebalance dollar-neutral.
func (h BacktestHandler) applyRebalance(portfolio *domain.Portfolio, ranked *domain.RankedCrossSection, opts internal.PipelineOptions) domain.RebalanceEvent {
	longs := ranked.Bucket(opts.LongBucket)
	shorts := ranked.Bucket(opts.ShortBucket)

	targetWeights := map[string]float64{}
	for _, symbol := range longs {
		targetWeights[symbol] = 1.0 / float64(len(longs))
	}
	for _, symbol := range shorts {
		targetWeights[symbol] = -1.0 / float64(len(shorts))
	}

	turnover := 0.0
	for symbol, newWeight := range targetWeights {
		diff := newWeight - portfolio.Weights[symbol]
		if diff < 0 {
			diff = -diff
		}
		turnover += diff
	}
	for symbol, oldWeight := range portfolio.Weights {
		if _, ok := targetWeights[symbol]; !ok && oldWeight != 0 {
			if oldWeight < 0 {
				oldWeight = -oldWeight
			}
			turnover += oldWeight
		}
	}

	portfolio.Weights = targetWeights
	portfolio.LastRebalance = ranked.Date

	return domain.RebalanceEvent{
		Date:          ranked.Date,
		TargetWeights: copyWeights(targetWeights),
		Turnover:      turnover,
	}
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for symbol, w := range in {
		out[symbol] = w
	}
	return out
}
